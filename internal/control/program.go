// Package control defines the interface the scan-cycle engine uses to drive
// the control program, plus a reference in-process implementation and a
// wazero-backed loader for real compiled programs (spec.md §6).
package control

import (
	"time"

	"github.com/plcrun/plcrun/internal/image"
)

// Program is the core's view of a loaded control-program module. Every
// method is invoked on the scan-cycle thread only, never concurrently with
// another Program call.
type Program interface {
	// ConfigInit is the one-shot init entry point: it establishes the
	// program's variable storage and binds cells into tables.
	ConfigInit(tables *image.Tables) error

	// GlueVars is the post-init hook that wires storage into the tables,
	// invoked once, immediately after ConfigInit.
	GlueVars(tables *image.Tables) error

	// SetBufferPointers is the inverse binding: the core hands the program
	// the table it should read/write through set_buffer_pointers. For an
	// in-process Go program this is typically the same *image.Tables
	// ConfigInit already received; the method exists so loaders that proxy
	// to an out-of-process module (the wasm loader) have a clear point to
	// push pointer bases across the boundary.
	SetBufferPointers(tables *image.Tables) error

	// ConfigRun advances the control logic by one tick.
	ConfigRun(tick uint64) error

	// UpdateTime advances the program's internal clock.
	UpdateTime() error

	// TickPeriod returns common_ticktime: the configured scan period.
	TickPeriod() time.Duration
}

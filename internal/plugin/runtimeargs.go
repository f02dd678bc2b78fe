package plugin

import (
	"github.com/plcrun/plcrun/internal/image"
)

// LogFunc is one of the four logging callbacks (info/debug/warn/error)
// handed to every plugin through its Runtime-Args.
type LogFunc func(component, msg string, kv ...any)

// JournalWriter is the five journal-write callbacks (bool/byte/int/
// dint/lint), bundled behind an interface so plugins depend on behaviour
// rather than a concrete *journal.Journal.
type JournalWriter interface {
	WriteBool(bt image.BufferType, index uint16, bit uint8, value bool) error
	WriteByte(bt image.BufferType, index uint16, value uint8) error
	WriteInt(bt image.BufferType, index uint16, value uint16) error
	WriteDint(bt image.BufferType, index uint16, value uint32) error
	WriteLint(bt image.BufferType, index uint16, value uint64) error
}

// RuntimeArgs is the single argument handed to each plugin's init. It
// aggregates the image-table pointer bundle, the image-lock acquire/release
// pair, a per-plugin config path and buffer dimensions, the four logging
// callbacks, and the five journal-write callbacks.
//
// The struct lives for the whole plugin instance lifetime — the host
// retains it rather than freeing it after init returns — but per spec.md
// §3, a plugin should treat any field it needs after init as copied out,
// not as a standing alias into host-private state.
type RuntimeArgs struct {
	Tables *image.Tables

	Lock   func()
	Unlock func()

	ConfigPath string
	BufferDim  int // N, the fixed length of every image-table family

	Info  LogFunc
	Debug LogFunc
	Warn  LogFunc
	Error LogFunc

	Journal JournalWriter
}

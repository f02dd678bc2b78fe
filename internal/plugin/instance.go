package plugin

import "sync/atomic"

// EntryPoints is the set of required entry points every plugin must
// implement: init, start, stop, cleanup.
type EntryPoints interface {
	Init(args *RuntimeArgs) error
	Start() error
	Stop() error
	Cleanup() error
}

// CycleStarter is implemented by plugins that export the optional
// cycle_start hook.
type CycleStarter interface {
	CycleStart()
}

// CycleEnder is implemented by plugins that export the optional cycle_end
// hook.
type CycleEnder interface {
	CycleEnd()
}

// Instance is a loaded, initialised plugin: its descriptor plus the entry
// points resolved from the loaded module. A failed init never produces an
// Instance — the host discards it and logs instead (spec.md §3, Plugin
// Instance lifecycle).
type Instance struct {
	Descriptor Descriptor
	entry      EntryPoints

	// unhealthy is set by the failure boundary the first time a call into
	// entry panics; once set, cycle hooks are suppressed for this
	// instance, but stop/cleanup still run (spec.md §4.4).
	unhealthy atomic.Bool
}

func (in *Instance) Healthy() bool { return !in.unhealthy.Load() }

func (in *Instance) cycleStarter() (CycleStarter, bool) {
	cs, ok := in.entry.(CycleStarter)
	return cs, ok
}

func (in *Instance) cycleEnder() (CycleEnder, bool) {
	ce, ok := in.entry.(CycleEnder)
	return ce, ok
}

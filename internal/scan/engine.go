// Package scan implements the scan-cycle engine: the periodic driver that
// applies the journal, runs one control-program iteration, runs the
// plugin cycle hooks, and sleeps until the next tick (spec.md §4.3).
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/plcrun/plcrun/internal/control"
	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/journal"
)

// State is one of the five scan-cycle engine states.
type State int

const (
	Empty State = iota
	Init
	Running
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Init:
		return "INIT"
	case Running:
		return "RUNNING"
	case Stopped:
		return "STOPPED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Hooks is the subset of the plugin host the engine needs each tick: the
// optional cycle_start/cycle_end invocation, called with the image lock
// held.
type Hooks interface {
	RunCycleStart()
	RunCycleEnd()
}

// noopHooks is used when the engine is driven without a plugin host, e.g.
// in unit tests of the tick algorithm in isolation.
type noopHooks struct{}

func (noopHooks) RunCycleStart() {}
func (noopHooks) RunCycleEnd()   {}

// Engine is the scan-cycle state machine. The zero value is not usable;
// construct with New.
type Engine struct {
	tables  *image.Tables
	journal *journal.Journal
	hooks   Hooks
	log     *slog.Logger

	program control.Program

	state       atomic.Int32
	keepRunning atomic.Bool
	tickCounter atomic.Uint64
	stats       Stats
}

// New returns an Engine in the EMPTY state.
func New(tables *image.Tables, j *journal.Journal, hooks Hooks, log *slog.Logger) *Engine {
	if hooks == nil {
		hooks = noopHooks{}
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{tables: tables, journal: j, hooks: hooks, log: log}
	e.state.Store(int32(Empty))
	return e
}

func (e *Engine) State() State { return State(e.state.Load()) }

// TickCounter returns the number of completed ticks so far.
func (e *Engine) TickCounter() uint64 { return e.tickCounter.Load() }

// Stats returns a read-only snapshot of the rolling scan-time and latency
// statistics.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// Load transitions EMPTY -> INIT: it installs the control program, calls
// its init entry points, and establishes its bindings. Failure to load a
// control program from EMPTY is one of the few process-fatal conditions
// spec.md §7 names; Load reports it as an error and leaves the engine in
// EMPTY rather than forcing a process exit, so callers can decide policy.
func (e *Engine) Load(p control.Program) error {
	if e.State() != Empty {
		return fmt.Errorf("scan: Load called in state %s, want EMPTY", e.State())
	}
	e.journal.Init()

	if err := p.ConfigInit(e.tables); err != nil {
		return fmt.Errorf("scan: control program config_init: %w", err)
	}
	if err := p.GlueVars(e.tables); err != nil {
		return fmt.Errorf("scan: control program glue_vars: %w", err)
	}
	if err := p.SetBufferPointers(e.tables); err != nil {
		return fmt.Errorf("scan: control program set_buffer_pointers: %w", err)
	}

	e.program = p
	e.state.Store(int32(Init))
	return nil
}

// ErrControlProgramPanicked is returned by Start when the control program
// itself panics during run() or update_time(). Unlike a plugin hook's
// panic, which is recovered, logged and absorbed, a control-program panic
// is recovered only so it can be reported — the control program is the
// thing the whole engine exists to drive — and it is the one condition
// that drives the engine into the terminal ERROR state.
var ErrControlProgramPanicked = fmt.Errorf("scan: control program panicked")

// Start transitions INIT/STOPPED -> RUNNING and runs the tick loop until
// ctx is cancelled or Stop is called. It blocks the calling goroutine;
// callers typically run it in its own goroutine.
func (e *Engine) Start(ctx context.Context) error {
	switch e.State() {
	case Init, Stopped:
	default:
		return fmt.Errorf("scan: Start called in state %s, want INIT or STOPPED", e.State())
	}

	e.state.Store(int32(Running))
	e.keepRunning.Store(true)

	period := e.program.TickPeriod()

	for {
		start := time.Now()
		nextTick := start.Add(period)

		if panicked := e.runTick(); panicked != nil {
			e.state.Store(int32(Error))
			return fmt.Errorf("%w: %v", ErrControlProgramPanicked, panicked)
		}

		scanDuration := time.Since(start)
		e.stats.recordScan(scanDuration)
		overran := scanDuration > period
		if overran {
			e.stats.recordOverrun()
		}

		select {
		case <-ctx.Done():
			e.state.Store(int32(Stopped))
			return ctx.Err()
		default:
		}

		if !e.keepRunning.Load() {
			e.state.Store(int32(Stopped))
			return nil
		}

		if overran {
			// fail-sloppy: no catch-up for missed ticks, start the next
			// one immediately.
			continue
		}

		sleep := time.Until(nextTick)
		if sleep > 0 {
			wake := time.Now()
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				e.state.Store(int32(Stopped))
				return ctx.Err()
			}
			e.stats.recordLatency(time.Since(wake) - sleep)
		}
	}
}

// runTick is the invariant tick body described in spec.md §4.3 steps 1-7:
// acquire the image lock, apply the journal, run cycle_start hooks, run
// the control program, run cycle_end hooks, release the image lock. It
// returns non-nil only if the control program itself panicked.
func (e *Engine) runTick() (panicked any) {
	e.tables.Lock()
	defer e.tables.Unlock()

	e.journal.ApplyAndClear()
	e.hooks.RunCycleStart()

	tick := e.tickCounter.Add(1) - 1
	if err := e.runControlProgram(tick, &panicked); panicked != nil {
		return panicked
	} else if err != nil {
		e.log.Error("control program run failed", "tick", tick, "error", err)
	}

	e.hooks.RunCycleEnd()
	return nil
}

// runControlProgram calls ConfigRun and UpdateTime under a recover so a
// panic can be turned into the ERROR-state transition Start performs,
// instead of crashing the whole process mid-tick with the image lock held.
func (e *Engine) runControlProgram(tick uint64, panicked *any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			*panicked = r
		}
	}()
	if err = e.program.ConfigRun(tick); err != nil {
		return err
	}
	if err = e.program.UpdateTime(); err != nil {
		e.log.Error("control program update_time failed", "tick", tick, "error", err)
	}
	return nil
}

// Stop requests a clean exit after the current tick completes
// (spec.md §4.3 Cancellation).
func (e *Engine) Stop() {
	e.keepRunning.Store(false)
}

// Package plugin implements the plugin host: discovery, loading,
// initialisation, the per-cycle hook invocation, and the failure boundary
// around every plugin entry point (spec.md §4.4).
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plcrun/plcrun/internal/image"
)

// Loader resolves a Descriptor to a loaded module's entry points. The host
// has one Loader per Kind; RegisterBuiltin wires in-tree reference plugins
// in without going through a Loader at all.
type Loader interface {
	Load(d Descriptor) (EntryPoints, error)
}

// BuiltinFactory constructs a fresh EntryPoints value for a builtin plugin
// named in a descriptor with Kind == KindBuiltin. Builtins are registered
// the way database/sql registers drivers: by name, before the host starts
// loading descriptors.
type BuiltinFactory func() EntryPoints

// Host owns the full plugin instance list and the loaders used to resolve
// descriptors into entry points.
type Host struct {
	tables  *image.Tables
	journal JournalWriter
	log     *slog.Logger

	loaders  map[Kind]Loader
	builtins map[string]BuiltinFactory

	instances []*Instance
}

// NewHost returns a Host wired to tables and journal; callers register
// loaders and builtins before calling LoadAll.
func NewHost(tables *image.Tables, journal JournalWriter, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		tables:   tables,
		journal:  journal,
		log:      log,
		loaders:  make(map[Kind]Loader),
		builtins: make(map[string]BuiltinFactory),
	}
}

// RegisterLoader wires a Loader for the given kind (native or scripted).
func (h *Host) RegisterLoader(kind Kind, l Loader) {
	h.loaders[kind] = l
}

// RegisterBuiltin registers an in-process reference plugin factory under
// name, for descriptors with Kind == KindBuiltin and a matching Name.
func (h *Host) RegisterBuiltin(name string, factory BuiltinFactory) {
	h.builtins[name] = factory
}

// Instances returns the currently loaded, healthy-or-not instance list.
func (h *Host) Instances() []*Instance {
	return h.instances
}

func (h *Host) resolve(d Descriptor) (EntryPoints, error) {
	if d.Kind == KindBuiltin {
		factory, ok := h.builtins[d.Name]
		if !ok {
			return nil, fmt.Errorf("no builtin plugin registered for %q", d.Name)
		}
		return factory(), nil
	}
	loader, ok := h.loaders[d.Kind]
	if !ok {
		return nil, fmt.Errorf("no loader registered for kind %q", d.Kind)
	}
	return loader.Load(d)
}

// LoadAll loads, resolves entry points for, and initialises every enabled
// descriptor. A descriptor whose module fails to load, whose required
// entry points are missing, or whose init returns an error is logged and
// skipped; the host proceeds with the survivors (spec.md §7,
// ModuleLoadFailed / EntryPointMissing policy).
func (h *Host) LoadAll(descriptors []Descriptor) {
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}

		entry, err := h.resolve(d)
		if err != nil {
			h.log.Error("plugin module load failed", "plugin", d.Name, "error", err)
			continue
		}

		args := &RuntimeArgs{
			Tables:     h.tables,
			Lock:       h.tables.Lock,
			Unlock:     h.tables.Unlock,
			ConfigPath: d.ConfigPath,
			BufferDim:  image.N,
			Info:       h.logFuncFor(d.Name, slog.LevelInfo),
			Debug:      h.logFuncFor(d.Name, slog.LevelDebug),
			Warn:       h.logFuncFor(d.Name, slog.LevelWarn),
			Error:      h.logFuncFor(d.Name, slog.LevelError),
			Journal:    h.journal,
		}

		initErr := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("plugin init panicked: %v", r)
				}
			}()
			return entry.Init(args)
		}()
		if initErr != nil {
			h.log.Error("plugin init failed", "plugin", d.Name, "error", initErr)
			continue
		}

		h.instances = append(h.instances, &Instance{Descriptor: d, entry: entry})
	}
}

func (h *Host) logFuncFor(component string, level slog.Level) LogFunc {
	return func(_ string, msg string, kv ...any) {
		h.log.Log(context.Background(), level, msg, append([]any{"component", component}, kv...)...)
	}
}

// StartAll calls Start on every surviving instance, in registration order.
// cmd/plcrun invokes it immediately before Engine.Start, so plugins start
// while the engine is still in INIT, not after it has entered RUNNING.
func (h *Host) StartAll() {
	for _, in := range h.instances {
		h.guard(in, "start", in.entry.Start)
	}
}

// StopAll calls Stop then Cleanup on every instance, in reverse order of
// registration, as spec.md §4.4 requires.
func (h *Host) StopAll() {
	for i := len(h.instances) - 1; i >= 0; i-- {
		in := h.instances[i]
		h.guard(in, "stop", in.entry.Stop)
		h.guard(in, "cleanup", in.entry.Cleanup)
	}
}

// RunCycleStart invokes the optional cycle_start hook on every healthy
// instance that exports one. Called by the scan-cycle engine with the
// image lock held.
func (h *Host) RunCycleStart() {
	for _, in := range h.instances {
		if !in.Healthy() {
			continue
		}
		cs, ok := in.cycleStarter()
		if !ok {
			continue
		}
		h.guardVoid(in, "cycle_start", cs.CycleStart)
	}
}

// RunCycleEnd invokes the optional cycle_end hook on every healthy instance
// that exports one. Called by the scan-cycle engine with the image lock
// held.
func (h *Host) RunCycleEnd() {
	for _, in := range h.instances {
		if !in.Healthy() {
			continue
		}
		ce, ok := in.cycleEnder()
		if !ok {
			continue
		}
		h.guardVoid(in, "cycle_end", ce.CycleEnd)
	}
}

// guard runs fn inside a failure boundary: a panic is recovered, logged,
// and marks the instance unhealthy so further hook invocations are
// suppressed. stop/cleanup still run afterwards regardless of health.
func (h *Host) guard(in *Instance, phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			in.unhealthy.Store(true)
			h.log.Error("plugin panic", "plugin", in.Descriptor.Name, "phase", phase, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		h.log.Error("plugin entry point error", "plugin", in.Descriptor.Name, "phase", phase, "error", err)
	}
}

func (h *Host) guardVoid(in *Instance, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			in.unhealthy.Store(true)
			h.log.Error("plugin panic", "plugin", in.Descriptor.Name, "phase", phase, "panic", r)
		}
	}()
	fn()
}

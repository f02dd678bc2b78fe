package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/perr"
)

// WasmLoader loads both native and scripted plugins as compiled
// WebAssembly modules, run with wazero. This is the portable stand-in for
// the spec's "dynamic library" loader — see DESIGN.md for why a WASM
// module plays that role here instead of a cgo/dlopen shared object.
//
// The six entry points are resolved as exported guest functions by name;
// a missing required export rejects the instance (spec.md §4.4,
// EntryPointMissing). The image-lock acquire/release pair and the five
// journal-write callbacks are exposed to the guest as host functions under
// module name "env", so a plugin's calls back into the host still
// serialise on the real Go mutexes in internal/image and internal/journal.
type WasmLoader struct {
	runtime wazero.Runtime
}

// NewWasmLoader creates the shared wazero runtime used to compile every
// plugin module this loader resolves.
func NewWasmLoader(ctx context.Context) (*WasmLoader, error) {
	r := wazero.NewRuntime(ctx)
	return &WasmLoader{runtime: r}, nil
}

// Close tears down the shared wazero runtime. Call once, at process
// shutdown, after every loaded instance has been cleaned up.
func (l *WasmLoader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

func requiredExports(m wazero.CompiledModule) []string {
	missing := []string{}
	defs := m.ExportedFunctions()
	for _, name := range []string{"init", "start", "stop", "cleanup"} {
		if _, ok := defs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Load compiles and instantiates the WASM module named by d.Path, binds
// the host-function environment the guest needs to reach the image lock
// and journal, and returns its entry points.
func (l *WasmLoader) Load(d Descriptor) (EntryPoints, error) {
	ctx := context.Background()

	bin, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module %s: %v: %w", d.Path, err, perr.ErrModuleLoadFailed)
	}

	compiled, err := l.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile wasm module %s: %v: %w", d.Path, err, perr.ErrModuleLoadFailed)
	}

	if missing := requiredExports(compiled); len(missing) > 0 {
		compiled.Close(ctx)
		return nil, fmt.Errorf("plugin %s missing required entry points %v: %w", d.Name, missing, perr.ErrEntryPointMissing)
	}

	p := &wasmPlugin{
		name:    d.Name,
		runtime: l.runtime,
		module:  compiled,
		ctx:     ctx,
	}

	defs := compiled.ExportedFunctions()
	_, p.hasCycleStart = defs["cycle_start"]
	_, p.hasCycleEnd = defs["cycle_end"]

	return p, nil
}

// wasmPlugin is one loaded guest module instance. It implements EntryPoints
// unconditionally; CycleStart/CycleEnd are no-ops when the guest doesn't
// export them, which is behaviourally equivalent to the host skipping the
// call (spec.md's "absence means skip").
type wasmPlugin struct {
	name    string
	runtime wazero.Runtime
	module  wazero.CompiledModule
	guest   api.Module
	env     api.Module
	ctx     context.Context

	args *RuntimeArgs

	hasCycleStart bool
	hasCycleEnd   bool
}

func (p *wasmPlugin) hostModuleConfig() wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithStdout(os.Stdout).
		WithStderr(os.Stderr)
}

// buildEnv wires the image-lock and journal-write callbacks into a host
// module the guest imports as "env". Every host function takes and returns
// plain integers, matching the guest's linear-memory-only ABI.
func (p *wasmPlugin) buildEnv(args *RuntimeArgs) (api.Module, error) {
	builder := p.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module) {
			args.Lock()
		}).
		Export("image_lock")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module) {
			args.Unlock()
		}).
		Export("image_unlock")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt uint32, index uint32, bit uint32, value uint32) uint32 {
			err := args.Journal.WriteBool(image.BufferType(bt), uint16(index), uint8(bit), value != 0)
			return boolErrCode(err)
		}).
		Export("journal_write_bool")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt uint32, index uint32, value uint32) uint32 {
			err := args.Journal.WriteByte(image.BufferType(bt), uint16(index), uint8(value))
			return boolErrCode(err)
		}).
		Export("journal_write_byte")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt uint32, index uint32, value uint32) uint32 {
			err := args.Journal.WriteInt(image.BufferType(bt), uint16(index), uint16(value))
			return boolErrCode(err)
		}).
		Export("journal_write_int")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt uint32, index uint32, value uint32) uint32 {
			err := args.Journal.WriteDint(image.BufferType(bt), uint16(index), value)
			return boolErrCode(err)
		}).
		Export("journal_write_dint")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt uint32, index uint32, value uint64) uint32 {
			err := args.Journal.WriteLint(image.BufferType(bt), uint16(index), value)
			return boolErrCode(err)
		}).
		Export("journal_write_lint")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, level uint32, ptr uint32, size uint32) {
			msg := readGuestString(m, ptr, size)
			logFuncForLevel(args, level)(p.name, msg)
		}).
		Export("log")

	return builder.Instantiate(p.ctx)
}

func boolErrCode(err error) uint32 {
	if err != nil {
		return 1
	}
	return 0
}

func logFuncForLevel(args *RuntimeArgs, level uint32) LogFunc {
	switch level {
	case 0:
		return args.Debug
	case 1:
		return args.Info
	case 2:
		return args.Warn
	default:
		return args.Error
	}
}

func readGuestString(m api.Module, ptr, size uint32) string {
	buf, ok := m.Memory().Read(ptr, size)
	if !ok {
		return ""
	}
	return string(buf)
}

// Init instantiates the guest module, binds the host environment, writes
// the Runtime-Args (minus function pointers, which are unrepresentable
// across the WASM boundary) into guest memory as JSON, and calls the
// guest's exported init function with a (ptr, len) pair.
func (p *wasmPlugin) Init(args *RuntimeArgs) error {
	p.args = args

	env, err := p.buildEnv(args)
	if err != nil {
		return fmt.Errorf("instantiate host env for %s: %w", p.name, err)
	}
	p.env = env

	guest, err := p.runtime.InstantiateModule(p.ctx, p.module, p.hostModuleConfig())
	if err != nil {
		return fmt.Errorf("instantiate guest module %s: %w", p.name, err)
	}
	p.guest = guest

	type initBlob struct {
		ConfigPath string `json:"config_path"`
		BufferDim  int    `json:"buffer_dim"`
	}
	blob, err := json.Marshal(initBlob{ConfigPath: args.ConfigPath, BufferDim: args.BufferDim})
	if err != nil {
		return fmt.Errorf("marshal init args for %s: %w", p.name, err)
	}

	ptr, free, err := writeGuestBytes(p.ctx, guest, blob)
	if err != nil {
		return fmt.Errorf("write init args for %s: %w", p.name, err)
	}
	defer free()

	return p.callChecked("init", uint64(ptr), uint64(len(blob)))
}

func (p *wasmPlugin) Start() error   { return p.callChecked("start") }
func (p *wasmPlugin) Stop() error    { return p.callChecked("stop") }
func (p *wasmPlugin) CycleStart()    { p.callVoidIfPresent("cycle_start", p.hasCycleStart) }
func (p *wasmPlugin) CycleEnd()      { p.callVoidIfPresent("cycle_end", p.hasCycleEnd) }

func (p *wasmPlugin) Cleanup() error {
	err := p.callChecked("cleanup")
	if p.guest != nil {
		p.guest.Close(p.ctx)
	}
	if p.env != nil {
		p.env.Close(p.ctx)
	}
	return err
}

func (p *wasmPlugin) callChecked(name string, args ...uint64) error {
	fn := p.guest.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("plugin %s: guest does not export %s", p.name, name)
	}
	results, err := fn.Call(p.ctx, args...)
	if err != nil {
		return fmt.Errorf("plugin %s: call %s: %w", p.name, name, err)
	}
	if len(results) > 0 && results[0] != 0 {
		return fmt.Errorf("plugin %s: %s returned nonzero status %d", p.name, name, results[0])
	}
	return nil
}

// callVoidIfPresent invokes a cycle hook that reports no status. Unlike a
// native plugin's panic, a WASM trap surfaces here as an error return from
// Call rather than a recoverable Go panic, so guardVoid's recover alone
// would never see it; log it explicitly so a trapping guest is at least
// visible the same way a native panic is.
func (p *wasmPlugin) callVoidIfPresent(name string, present bool) {
	if !present {
		return
	}
	fn := p.guest.ExportedFunction(name)
	if fn == nil {
		return
	}
	if _, err := fn.Call(p.ctx); err != nil && p.args != nil && p.args.Error != nil {
		p.args.Error(p.name, "cycle hook trapped", "hook", name, "error", err)
	}
}

// writeGuestBytes allocates space in the guest's linear memory (via its
// exported "alloc"/"dealloc" pair, the convention reglet's WASM plugins
// use) and copies data in. If the guest does not export alloc, the data
// is written at a fixed scratch offset instead — acceptable for the small,
// fixed-shape init blob this loader sends.
func writeGuestBytes(ctx context.Context, guest api.Module, data []byte) (uint32, func(), error) {
	alloc := guest.ExportedFunction("alloc")
	if alloc == nil {
		const scratchOffset = 1 << 16
		if !guest.Memory().Write(scratchOffset, data) {
			return 0, nil, fmt.Errorf("guest memory too small for scratch write")
		}
		return scratchOffset, func() {}, nil
	}

	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, nil, fmt.Errorf("guest alloc failed: %w", err)
	}
	ptr := uint32(results[0])
	if !guest.Memory().Write(ptr, data) {
		return 0, nil, fmt.Errorf("guest memory write out of range")
	}

	dealloc := guest.ExportedFunction("dealloc")
	free := func() {
		if dealloc != nil {
			dealloc.Call(ctx, uint64(ptr), uint64(len(data)))
		}
	}
	return ptr, free, nil
}

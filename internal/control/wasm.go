package control

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/plcrun/plcrun/internal/image"
	"github.com/plcrun/plcrun/internal/perr"
)

// WasmLoader compiles and instantiates control-program modules with
// wazero, the same mechanism internal/plugin uses for plugins (see
// DESIGN.md for why a WASM module stands in for the spec's "dynamic
// library" control-program module).
//
// A native Go program's image-table bindings are ordinary pointers into
// the program's own memory, so the scan-cycle engine can read and write
// them directly through *image.Tables. A WASM guest's storage instead
// lives in the guest's own linear memory, which the host cannot address
// with a Go pointer. This loader bridges the gap with shadow cells: for
// every binding the guest registers during config_init, the host
// allocates a real Go cell, binds it into *image.Tables the normal way,
// and copies bytes between that cell and the guest's declared offset
// immediately before and after every config_run/update_time call.
type WasmLoader struct {
	runtime wazero.Runtime
}

func NewWasmLoader(ctx context.Context) (*WasmLoader, error) {
	return &WasmLoader{runtime: wazero.NewRuntime(ctx)}, nil
}

func (l *WasmLoader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

func requiredControlExports(m wazero.CompiledModule) []string {
	missing := []string{}
	defs := m.ExportedFunctions()
	for _, name := range []string{"config_init", "glue_vars", "set_buffer_pointers", "config_run", "update_time", "common_ticktime"} {
		if _, ok := defs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Load compiles path as a control-program module and returns a Program
// that drives it through the scan-cycle engine's interface.
func (l *WasmLoader) Load(ctx context.Context, path string) (Program, error) {
	bin, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read control program %s: %v: %w", path, err, perr.ErrModuleLoadFailed)
	}

	compiled, err := l.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile control program %s: %v: %w", path, err, perr.ErrModuleLoadFailed)
	}
	if missing := requiredControlExports(compiled); len(missing) > 0 {
		compiled.Close(ctx)
		return nil, fmt.Errorf("control program %s missing required entry points %v: %w", path, missing, perr.ErrEntryPointMissing)
	}

	return &wasmProgram{runtime: l.runtime, module: compiled, ctx: ctx}, nil
}

type binding struct {
	bt        image.BufferType
	index     int
	bit       int // -1 for non-bool families
	guestAddr uint32

	boolCell *bool
	byteCell *uint8
	intCell  *uint16
	dintCell *uint32
	lintCell *uint64
}

type wasmProgram struct {
	runtime wazero.Runtime
	module  wazero.CompiledModule
	ctx     context.Context

	env   api.Module
	guest api.Module

	tables   *image.Tables
	bindings []*binding
}

func (p *wasmProgram) buildEnv() (api.Module, error) {
	builder := p.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, bt, index, bit, guestAddr uint32) {
			p.registerBinding(image.BufferType(bt), int(index), int(int32(bit)), guestAddr)
		}).
		Export("bind_cell")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, level, ptr, size uint32) {
			// control programs may log through the same four-level
			// convention plugins use; the message is written straight to
			// os.Stderr, not the process logger, since Program has no
			// Runtime-Args-style logging bundle of its own. level is unused.
			buf, ok := m.Memory().Read(ptr, size)
			if ok {
				fmt.Fprintf(os.Stderr, "control program: %s\n", string(buf))
			}
			_ = level
		}).
		Export("log")

	return builder.Instantiate(p.ctx)
}

func (p *wasmProgram) registerBinding(bt image.BufferType, index, bit int, guestAddr uint32) {
	b := &binding{bt: bt, index: index, bit: bit, guestAddr: guestAddr}
	switch {
	case bt.IsBool():
		cell := new(bool)
		b.boolCell = cell
		p.tables.BindBool(bt, index, bit, cell)
	case bt.IsByte():
		cell := new(uint8)
		b.byteCell = cell
		p.tables.BindByte(bt, index, cell)
	case bt.IsInt():
		cell := new(uint16)
		b.intCell = cell
		p.tables.BindInt(bt, index, cell)
	case bt.IsDint():
		cell := new(uint32)
		b.dintCell = cell
		p.tables.BindDint(bt, index, cell)
	case bt.IsLint():
		cell := new(uint64)
		b.lintCell = cell
		p.tables.BindLint(bt, index, cell)
	default:
		return
	}
	p.bindings = append(p.bindings, b)
}

// ConfigInit instantiates the guest module, wires the bind_cell/log host
// environment, and calls the guest's config_init, which is expected to
// call bind_cell once per storage cell it wants to expose.
func (p *wasmProgram) ConfigInit(tables *image.Tables) error {
	p.tables = tables

	env, err := p.buildEnv()
	if err != nil {
		return fmt.Errorf("instantiate control program host env: %w", err)
	}
	p.env = env

	guest, err := p.runtime.InstantiateModule(p.ctx, p.module, wazero.NewModuleConfig().WithStdout(os.Stdout).WithStderr(os.Stderr))
	if err != nil {
		return fmt.Errorf("instantiate control program guest module: %w", err)
	}
	p.guest = guest

	return p.call("config_init")
}

func (p *wasmProgram) GlueVars(tables *image.Tables) error {
	return p.call("glue_vars")
}

// SetBufferPointers tells the guest that binding is complete. There are
// no real pointer bases to push across the WASM boundary — the shadow
// cells registered during config_init already serve that role — so this
// only invokes the export for modules that use it as a readiness signal.
func (p *wasmProgram) SetBufferPointers(tables *image.Tables) error {
	return p.call("set_buffer_pointers")
}

func (p *wasmProgram) ConfigRun(tick uint64) error {
	p.pushToGuest()
	if err := p.call("config_run", tick); err != nil {
		return err
	}
	p.pullFromGuest()
	return nil
}

func (p *wasmProgram) UpdateTime() error {
	p.pushToGuest()
	if err := p.call("update_time"); err != nil {
		return err
	}
	p.pullFromGuest()
	return nil
}

func (p *wasmProgram) TickPeriod() time.Duration {
	fn := p.guest.ExportedFunction("common_ticktime")
	if fn == nil {
		return 10 * time.Millisecond
	}
	results, err := fn.Call(p.ctx)
	if err != nil || len(results) == 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(results[0])
}

func (p *wasmProgram) call(name string, args ...uint64) error {
	fn := p.guest.ExportedFunction(name)
	if fn == nil {
		return fmt.Errorf("control program: guest does not export %s: %w", name, perr.ErrEntryPointMissing)
	}
	results, err := fn.Call(p.ctx, args...)
	if err != nil {
		return fmt.Errorf("control program: call %s: %w", name, err)
	}
	if len(results) > 0 && results[0] != 0 {
		return fmt.Errorf("control program: %s returned nonzero status %d", name, results[0])
	}
	return nil
}

// pushToGuest copies every bound cell's current value into the guest's
// declared memory offset, little-endian, before invoking a guest entry
// point that reads cell storage.
func (p *wasmProgram) pushToGuest() {
	mem := p.guest.Memory()
	for _, b := range p.bindings {
		switch {
		case b.boolCell != nil:
			v := byte(0)
			if *b.boolCell {
				v = 1
			}
			mem.WriteByte(b.guestAddr, v)
		case b.byteCell != nil:
			mem.WriteByte(b.guestAddr, *b.byteCell)
		case b.intCell != nil:
			var buf [2]byte
			binary.LittleEndian.PutUint16(buf[:], *b.intCell)
			mem.Write(b.guestAddr, buf[:])
		case b.dintCell != nil:
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], *b.dintCell)
			mem.Write(b.guestAddr, buf[:])
		case b.lintCell != nil:
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], *b.lintCell)
			mem.Write(b.guestAddr, buf[:])
		}
	}
}

// pullFromGuest is the inverse of pushToGuest, run after a guest entry
// point that may have written new cell values.
func (p *wasmProgram) pullFromGuest() {
	mem := p.guest.Memory()
	for _, b := range p.bindings {
		switch {
		case b.boolCell != nil:
			v, ok := mem.ReadByte(b.guestAddr)
			if ok {
				*b.boolCell = v != 0
			}
		case b.byteCell != nil:
			v, ok := mem.ReadByte(b.guestAddr)
			if ok {
				*b.byteCell = v
			}
		case b.intCell != nil:
			buf, ok := mem.Read(b.guestAddr, 2)
			if ok {
				*b.intCell = binary.LittleEndian.Uint16(buf)
			}
		case b.dintCell != nil:
			buf, ok := mem.Read(b.guestAddr, 4)
			if ok {
				*b.dintCell = binary.LittleEndian.Uint32(buf)
			}
		case b.lintCell != nil:
			buf, ok := mem.Read(b.guestAddr, 8)
			if ok {
				*b.lintCell = binary.LittleEndian.Uint64(buf)
			}
		}
	}
}

// Close tears down the guest instance and its host environment. It is not
// part of the Program interface, and neither the scan-cycle engine nor
// cmd/plcrun calls it.
func (p *wasmProgram) Close() error {
	if p.guest != nil {
		p.guest.Close(p.ctx)
	}
	if p.env != nil {
		p.env.Close(p.ctx)
	}
	return nil
}

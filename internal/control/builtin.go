package control

import (
	"time"

	"github.com/plcrun/plcrun/internal/image"
)

// Func is a minimal Program built from plain function values, used by
// engine tests and by any embedder that wants to drive the scan-cycle
// engine without a real compiled control program.
type Func struct {
	TickPeriodFunc func() time.Duration
	InitFunc       func(tables *image.Tables) error
	GlueFunc       func(tables *image.Tables) error
	RunFunc        func(tick uint64) error
	UpdateFunc     func() error
}

func (f *Func) ConfigInit(tables *image.Tables) error {
	if f.InitFunc == nil {
		return nil
	}
	return f.InitFunc(tables)
}

func (f *Func) GlueVars(tables *image.Tables) error {
	if f.GlueFunc == nil {
		return nil
	}
	return f.GlueFunc(tables)
}

func (f *Func) SetBufferPointers(tables *image.Tables) error {
	return nil
}

func (f *Func) ConfigRun(tick uint64) error {
	if f.RunFunc == nil {
		return nil
	}
	return f.RunFunc(tick)
}

func (f *Func) UpdateTime() error {
	if f.UpdateFunc == nil {
		return nil
	}
	return f.UpdateFunc()
}

func (f *Func) TickPeriod() time.Duration {
	if f.TickPeriodFunc == nil {
		return 10 * time.Millisecond
	}
	return f.TickPeriodFunc()
}

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SyncDriver runs tasks on the goroutine that calls Tick.
//
// Tick spans are measured against the tick counter and wall spans against the
// monotonic clock; the two are never reconciled, so a slow host loop stretches
// tick spans but not wall spans.
type SyncDriver struct {
	*core

	tickMu  sync.Mutex
	tick    atomic.Int64
	mono    monoClock
	tickLen time.Duration
	ctx     context.Context
}

func NewSyncDriver(opts ...Option) *SyncDriver {
	o := buildOptions(opts)
	d := &SyncDriver{
		mono:    newMonoClock(o.clock),
		tickLen: o.tickLength,
		ctx:     o.baseCtx,
	}
	d.core = newCore(DomainSync, d, o)
	return d
}

// Submit registers a task. It is safe to call from any goroutine, including
// from inside a payload.
func (d *SyncDriver) Submit(desc Descriptor) (*Task, error) {
	return d.core.submit(desc)
}

// Tick advances the tick counter and runs one pass, executing due payloads
// inline. Concurrent calls are serialized. A payload must not call Tick.
func (d *SyncDriver) Tick() {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()
	d.tick.Add(1)
	d.core.metrics.Tick()
	d.core.pass()
}

// CurrentTick returns the number of ticks processed so far.
func (d *SyncDriver) CurrentTick() int64 { return d.tick.Load() }

// TickLength is the nominal tick duration used for unit conversion.
func (d *SyncDriver) TickLength() time.Duration { return d.tickLen }

func (d *SyncDriver) now(u Unit) int64 {
	if u == UnitTicks {
		return d.tick.Load()
	}
	return d.mono.nanos()
}

func (d *SyncDriver) tickLength() time.Duration       { return d.tickLen }
func (d *SyncDriver) normalize(s Span) Span           { return s }
func (d *SyncDriver) dispatch(_ *Task, run func())    { run() }
func (d *SyncDriver) changed()                        {}
func (d *SyncDriver) onTaskCompletion(*Task)          {}
func (d *SyncDriver) payloadContext() context.Context { return d.ctx }

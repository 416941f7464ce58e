package scheduler

import (
	"context"
	"sync"
	"time"

	rtsup "tickwork/internal/runtime/supervisor"
	logx "tickwork/pkg/logx"
)

// AsyncDriver runs tasks on wall-clock time. A single loop goroutine sleeps
// until the nearest deadline, or until a submit, cancel or completion changes
// the picture, then runs one pass and hands due tasks to an elastic pool.
type AsyncDriver struct {
	*core

	opts options
	mono monoClock
	pool *pool
	wake chan struct{}

	// admit is held shared by Submit across registration and exclusively by
	// Shutdown while it closes the driver.
	admit sync.RWMutex

	// mu guards the loop bookkeeping below and the lifecycle fields.
	mu       sync.Mutex
	dirty    bool
	minWait  time.Duration
	lastPass int64

	sup       *rtsup.Supervisor
	runCtx    context.Context
	cancelRun context.CancelFunc
	started   bool
	closed    bool
}

func NewAsyncDriver(opts ...Option) *AsyncDriver {
	o := buildOptions(opts)
	d := &AsyncDriver{
		opts:   o,
		mono:   newMonoClock(o.clock),
		wake:   make(chan struct{}, 1),
		runCtx: context.Background(),
	}
	d.core = newCore(DomainAsync, d, o)
	d.pool = newPool(d.core.log.With(logx.String("comp", "scheduler.pool")), o.metrics, o.idleTimeout, o.maxWorkers)
	return d
}

// Start launches the loop. Payload contexts derive from ctx without its
// cancellation; they are canceled when Shutdown gives up waiting. Canceling
// ctx stops the loop.
func (d *AsyncDriver) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrShutdown
	}
	if d.started {
		return ErrAlreadyRunning
	}
	d.started = true
	d.runCtx, d.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	d.lastPass = d.mono.nanos()
	d.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(d.core.log))
	d.sup.Go("scheduler.async.loop", d.loop)
	return nil
}

// Submit registers a task and wakes the loop. Tasks submitted before Start
// wait for it.
func (d *AsyncDriver) Submit(desc Descriptor) (*Task, error) {
	d.admit.RLock()
	defer d.admit.RUnlock()
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}
	return d.core.submit(desc)
}

// Shutdown stops accepting submissions, stops the loop and waits for in-flight
// payloads to return. When ctx expires first, payload contexts are canceled
// and ctx.Err() is returned.
func (d *AsyncDriver) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.admit.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.admit.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	sup := d.sup
	cancelRun := d.cancelRun
	d.mu.Unlock()
	d.admit.Unlock()

	d.pool.close()
	if !started {
		return ErrNotRunning
	}
	defer cancelRun()

	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if werr := d.pool.wait(ctx); werr != nil {
		d.core.log.Warn("shutdown timed out with payloads in flight", logx.Int("workers", d.pool.snapshot().Workers))
		return werr
	}
	d.core.log.Debug("async driver stopped")
	return nil
}

// Err returns the loop's fatal error, if it died.
func (d *AsyncDriver) Err() error {
	d.mu.Lock()
	sup := d.sup
	d.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Pool returns a diagnostics snapshot of the worker pool.
func (d *AsyncDriver) Pool() PoolSnapshot { return d.pool.snapshot() }

// LoopSnapshot is a diagnostics view of the async loop.
type LoopSnapshot struct {
	Started    bool          `json:"started"`
	Closed     bool          `json:"closed"`
	Registered int           `json:"registered"`
	MinWait    time.Duration `json:"min_wait"` // -1: idle until signaled
	Pool       PoolSnapshot  `json:"pool"`
}

func (d *AsyncDriver) Snapshot() LoopSnapshot {
	d.mu.Lock()
	snap := LoopSnapshot{Started: d.started, Closed: d.closed, MinWait: d.minWait}
	d.mu.Unlock()
	snap.Registered = d.core.Len()
	snap.Pool = d.pool.snapshot()
	return snap
}

func (d *AsyncDriver) TickLength() time.Duration { return d.opts.tickLength }

func (d *AsyncDriver) loop(ctx context.Context) error {
	log := d.core.log
	log.Debug("async loop started")
	for {
		timeout, skip := d.recalibrate()
		if !skip {
			reason, ok := d.wait(ctx, timeout)
			if !ok {
				log.Debug("async loop stopped")
				return nil
			}
			d.core.metrics.Wakeup(reason)
		} else {
			d.core.metrics.Wakeup("changed")
		}
		if ctx.Err() != nil {
			return nil
		}

		d.core.pass()

		d.mu.Lock()
		d.lastPass = d.mono.nanos()
		d.mu.Unlock()
	}
}

// recalibrate computes how long the loop may sleep. A negative timeout means
// no task is pending and only a signal can wake the loop. skip reports that
// something changed since the last wait, so the loop should pass immediately.
func (d *AsyncDriver) recalibrate() (timeout time.Duration, skip bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dirty {
		d.dirty = false
		select {
		case <-d.wake:
		default:
		}
		return 0, true
	}

	ref := d.lastPass
	next := int64(-1)
	for _, t := range d.core.reg.snapshot() {
		st := t.State()
		if st == StateCanceled || st.inFlight() {
			continue
		}
		th, ok := d.core.threshold(t, st)
		if !ok {
			continue
		}
		rem := th.n - (ref - t.stampFor(th.unit))
		if rem < 0 {
			rem = 0
		}
		if next < 0 || rem < next {
			next = rem
		}
		if next == 0 {
			break
		}
	}
	if next < 0 {
		d.minWait = -1
		return -1, false
	}

	latency := d.mono.nanos() - ref
	wait := next - latency
	if wait < 0 {
		wait = 0
	}
	d.minWait = time.Duration(wait)
	return d.minWait, false
}

// wait blocks until the timeout fires, a signal arrives or ctx is done.
func (d *AsyncDriver) wait(ctx context.Context, timeout time.Duration) (reason string, ok bool) {
	if timeout == 0 {
		return "timer", true
	}
	var timer <-chan time.Time
	if timeout > 0 {
		timer = d.opts.clock.After(timeout)
	}
	select {
	case <-ctx.Done():
		return "", false
	case <-d.wake:
		d.mu.Lock()
		d.dirty = false
		d.mu.Unlock()
		return "signal", true
	case <-timer:
		return "timer", true
	}
}

func (d *AsyncDriver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *AsyncDriver) now(u Unit) int64 {
	n := d.mono.nanos()
	if u == UnitTicks {
		return n / int64(d.opts.tickLength)
	}
	return n
}

func (d *AsyncDriver) tickLength() time.Duration { return d.opts.tickLength }

// Tick spans are converted to wall time; the async domain has no tick counter.
func (d *AsyncDriver) normalize(s Span) Span { return s.In(UnitWall, d.opts.tickLength) }

func (d *AsyncDriver) dispatch(t *Task, run func()) {
	if err := d.pool.submit(run); err != nil {
		// Shutting down: the task stays SWITCHING and is never run.
		d.core.log.Debug("dispatch dropped", logx.String("task", t.Name()), logx.Err(err))
	}
}

func (d *AsyncDriver) changed() {
	d.mu.Lock()
	d.dirty = true
	d.mu.Unlock()
	d.signal()
}

func (d *AsyncDriver) onTaskCompletion(*Task) { d.signal() }

func (d *AsyncDriver) payloadContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runCtx
}

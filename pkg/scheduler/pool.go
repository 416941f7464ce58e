package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	logx "tickwork/pkg/logx"
	"tickwork/pkg/metrics"
)

// pool is an elastic worker pool. A job goes to the most recently parked idle
// worker when there is one, otherwise a new worker is started. Idle workers
// exit after idleTimeout. With maxWorkers > 0, jobs beyond the cap queue in
// backlog and are picked up by the next worker that frees up.
type pool struct {
	log         logx.Logger
	metrics     *metrics.Registry
	idleTimeout time.Duration
	maxWorkers  int

	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	workers int
	ready   []*poolWorker
	backlog []func()
	closed  bool
}

type poolWorker struct {
	// jobs has room for exactly one job; it is only sent to while the worker
	// sits in ready, under pool.mu.
	jobs chan func()
}

// PoolSnapshot is a diagnostics view of the async pool.
type PoolSnapshot struct {
	Workers int `json:"workers"`
	Idle    int `json:"idle"`
	Backlog int `json:"backlog"`
	Max     int `json:"max"`
}

func newPool(log logx.Logger, m *metrics.Registry, idleTimeout time.Duration, maxWorkers int) *pool {
	return &pool{
		log:         log,
		metrics:     m,
		idleTimeout: idleTimeout,
		maxWorkers:  maxWorkers,
		quit:        make(chan struct{}),
	}
}

func (p *pool) submit(job func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdown
	}
	if n := len(p.ready); n > 0 {
		w := p.ready[n-1]
		p.ready[n-1] = nil
		p.ready = p.ready[:n-1]
		w.jobs <- job
		p.reportLocked()
		return nil
	}
	if p.maxWorkers > 0 && p.workers >= p.maxWorkers {
		p.backlog = append(p.backlog, job)
		return nil
	}
	p.workers++
	p.wg.Add(1)
	p.reportLocked()
	go p.work(&poolWorker{jobs: make(chan func(), 1)}, job)
	return nil
}

func (p *pool) work(w *poolWorker, job func()) {
	defer p.wg.Done()
	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		p.run(job)

		next, exit := p.park(w)
		if exit {
			return
		}
		if next != nil {
			job = next
			continue
		}

		timer.Reset(p.idleTimeout)
		var ok bool
		select {
		case job = <-w.jobs:
		case <-timer.C:
			if job, ok = p.retire(w); !ok {
				return
			}
		case <-p.quit:
			if job, ok = p.retire(w); !ok {
				return
			}
		}
	}
}

// run executes one job; a panic is logged and the worker survives.
func (p *pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

// park hands w the next backlog job, or marks it idle. After close, a worker
// with no backlog left exits instead.
func (p *pool) park(w *poolWorker) (job func(), exit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) > 0 {
		job = p.backlog[0]
		p.backlog[0] = nil
		p.backlog = p.backlog[1:]
		return job, false
	}
	if p.closed {
		p.workers--
		p.reportLocked()
		return nil, true
	}
	p.ready = append(p.ready, w)
	p.reportLocked()
	return nil, false
}

// retire removes an idle worker. If submit reserved w in the meantime, the
// job is already in w.jobs and is returned instead.
func (p *pool) retire(w *poolWorker) (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.ready {
		if r == w {
			p.ready = append(p.ready[:i], p.ready[i+1:]...)
			p.workers--
			p.reportLocked()
			return nil, false
		}
	}
	return <-w.jobs, true
}

func (p *pool) reportLocked() {
	p.metrics.Pool(p.workers, len(p.ready))
}

// close stops accepting jobs. Busy workers finish their job and the backlog
// before exiting.
func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.quit)
}

// wait blocks until every worker has exited or ctx is done.
func (p *pool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolSnapshot{Workers: p.workers, Idle: len(p.ready), Backlog: len(p.backlog), Max: p.maxWorkers}
}

package scheduler

import (
	"context"
	"time"

	"tickwork/pkg/eventbus"
	logx "tickwork/pkg/logx"
	"tickwork/pkg/metrics"
)

const (
	DefaultTickLength        = 50 * time.Millisecond
	DefaultIdleWorkerTimeout = 60 * time.Second
	defaultFailureLogRate    = 1.0
)

type options struct {
	log         logx.Logger
	clock       Clock
	hooks       Hooks
	metrics     *metrics.Registry
	bus         eventbus.Bus
	baseCtx     context.Context
	tickLength  time.Duration
	idleTimeout time.Duration
	maxWorkers  int
	maxFailures int
}

// Option configures a driver or a Scheduler.
type Option func(*options)

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithClock replaces the wall clock (tests use a manual clock).
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

func WithScopeHook(h ScopeHook) Option { return func(o *options) { o.hooks.Scope = h } }

// WithFailureHook replaces the default throttled logging hook.
func WithFailureHook(h FailureHook) Option { return func(o *options) { o.hooks.Failure = h } }

func WithMetrics(m *metrics.Registry) Option { return func(o *options) { o.metrics = m } }

// WithEventBus publishes task lifecycle events (see the Event* constants).
func WithEventBus(b eventbus.Bus) Option { return func(o *options) { o.bus = b } }

// WithContext sets the context passed to sync payloads. Async payloads get a
// context derived from the one given to AsyncDriver.Start.
func WithContext(ctx context.Context) Option { return func(o *options) { o.baseCtx = ctx } }

// WithTickLength sets the nominal duration of one tick, used to convert tick
// spans to wall time (async deadlines, DelayUntilNextRun).
func WithTickLength(d time.Duration) Option { return func(o *options) { o.tickLength = d } }

// WithIdleWorkerTimeout sets how long an idle async worker lingers before exiting.
func WithIdleWorkerTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithMaxWorkers caps the async pool. 0 means unbounded; when capped, due
// tasks beyond the cap wait for a free worker.
func WithMaxWorkers(n int) Option { return func(o *options) { o.maxWorkers = n } }

// WithDefaultMaxFailures applies a consecutive-failure cutoff to descriptors
// that do not set one. 0 retries forever.
func WithDefaultMaxFailures(n int) Option { return func(o *options) { o.maxFailures = n } }

func buildOptions(opts []Option) options {
	o := options{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.clock == nil {
		o.clock = SystemClock()
	}
	if o.baseCtx == nil {
		o.baseCtx = context.Background()
	}
	if o.tickLength <= 0 {
		o.tickLength = DefaultTickLength
	}
	if o.idleTimeout <= 0 {
		o.idleTimeout = DefaultIdleWorkerTimeout
	}
	if o.maxWorkers < 0 {
		o.maxWorkers = 0
	}
	if o.maxFailures < 0 {
		o.maxFailures = 0
	}
	if o.hooks.Failure == nil {
		o.hooks.Failure = DefaultFailureHook(o.log, defaultFailureLogRate)
	}
	return o
}

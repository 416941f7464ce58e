package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tickwork/internal/config"
	"tickwork/internal/observability/promserver"
	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/storage"
	"tickwork/pkg/eventbus"
	logx "tickwork/pkg/logx"
	"tickwork/pkg/metrics"
	"tickwork/pkg/scheduler"
	"tickwork/pkg/systemd"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App hosts a Scheduler as a long-running daemon: it drives ticks, runs the
// housekeeping tasks, records run history and follows config changes.
type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	warn *logx.Throttle

	bus     eventbus.Bus
	store   storage.Store
	prom    *prometheus.Registry
	sched   *scheduler.Scheduler
	promsrv *promserver.Service
	sd      *systemd.Notifier
	sup     *rtsup.Supervisor

	tickRate  time.Duration
	hasStore  bool
	stopRec   func()
	recorded  chan struct{}
	startedAt time.Time

	mu           sync.Mutex
	rt           *config.Runtime
	housekeeping map[string]*scheduler.Task
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.LogConfig())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewRegistry(prom)

	store, err := storage.Open(storage.Config{
		Driver:      rt.Storage.Driver,
		Path:        rt.Storage.Path,
		BusyTimeout: rt.Storage.BusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if rt.Storage.Driver != "none" {
		log.Info("run history enabled", logx.String("driver", rt.Storage.Driver))
	}

	sched := scheduler.New(
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithMetrics(m),
		scheduler.WithEventBus(bus),
		scheduler.WithTickLength(rt.TickLength),
		scheduler.WithIdleWorkerTimeout(rt.IdleWorkerTimeout),
		scheduler.WithMaxWorkers(rt.MaxWorkers),
		scheduler.WithDefaultMaxFailures(rt.MaxFailures),
	)

	var promsrv *promserver.Service
	if rt.Metrics.Enabled {
		promsrv = promserver.New(promserver.Config{
			Addr: rt.Metrics.Addr,
			Path: rt.Metrics.Path,
		}, prom, log.With(logx.String("comp", "metrics")))
	}

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		warn:         logx.NewThrottle(0.2, 1),
		bus:          bus,
		store:        store,
		prom:         prom,
		sched:        sched,
		promsrv:      promsrv,
		sd:           systemd.New(rt.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
		tickRate:     rt.TickRate,
		hasStore:     rt.Storage.Driver != "none",
		rt:           rt,
		housekeeping: map[string]*scheduler.Task{},
	}, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Store() storage.Store { return a.store }

// Gatherer exposes the daemon's Prometheus registry.
func (a *App) Gatherer() prometheus.Gatherer { return a.prom }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := cfg.Resolve()
		return err
	})

	// The recorder is not tied to the supervisor context: it must keep
	// draining events until the scheduler has stopped.
	a.startRecorder()

	if a.promsrv != nil {
		if err := a.promsrv.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	a.sup.Go("scheduler.tick", a.tickLoop)
	a.sup.Go("scheduler.async.watch", a.watchAsync)

	a.mu.Lock()
	rt := a.rt
	a.mu.Unlock()
	if err := a.applyHousekeeping(rt); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	a.sd.Ready()
	a.log.Info("tickworkd started",
		logx.Duration("tick_rate", a.tickRate),
		logx.Int("housekeeping", len(a.HousekeepingTasks())),
	)
	return nil
}

// tickLoop drives the sync domain at the configured rate.
func (a *App) tickLoop(ctx context.Context) error {
	t := time.NewTicker(a.tickRate)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.sched.Tick()
		}
	}
}

// watchAsync turns a dead async loop into an app-level fatal error.
func (a *App) watchAsync(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.sched.Async.Err(); err != nil {
				return fmt.Errorf("async loop died: %w", err)
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies what can change live: logging and the housekeeping
// tasks. Everything else is logged as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	rt, err := newCfg.Resolve()
	if err != nil {
		// The manager validates before publishing; this only guards direct callers.
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(newCfg.Logging.LogConfig())

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range sections {
		if s == "tasks" || s == "systemd" {
			if err := a.applyHousekeeping(rt); err != nil {
				a.log.Warn("housekeeping update failed", logx.Err(err))
			}
			break
		}
	}

	a.mu.Lock()
	a.rt = rt
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, a.sched.Shutdown)
	a.step(ctx, "recorder", time.Second, func(c context.Context) error {
		a.stopRecorder(c)
		return nil
	})
	if a.promsrv != nil {
		a.step(ctx, "metrics", time.Second, a.promsrv.Stop)
	}
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Duration("uptime", time.Since(a.startedAt)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "tickwork/pkg/logx"
	"tickwork/pkg/scheduler"
)

const (
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"
	DefaultHistoryKeep = 10000

	TaskStatus   = "status"
	TaskPrune    = "history.prune"
	TaskWatchdog = "watchdog"

	defaultStatusSchedule   = "ticks:1200"
	defaultPruneSchedule    = "1h"
	defaultWatchdogSchedule = "10s"
	defaultBusyTimeout      = 5 * time.Second
)

// Runtime is a Config with defaults applied and every string parsed.
type Runtime struct {
	TickRate          time.Duration
	TickLength        time.Duration
	MaxFailures       int
	IdleWorkerTimeout time.Duration
	MaxWorkers        int

	Storage StorageRuntime
	Metrics MetricsConfig
	Systemd SystemdConfig
	Tasks   []TaskRuntime
}

type StorageRuntime struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
	Keep        int
}

// TaskRuntime is a resolved housekeeping task.
type TaskRuntime struct {
	Name     string
	Domain   scheduler.Domain
	Enabled  bool
	Raw      string
	Schedule scheduler.Schedule
}

// Resolve validates cfg and applies defaults. All problems are reported at
// once, joined.
func (c *Config) Resolve() (*Runtime, error) {
	if c == nil {
		c = &Config{}
	}
	var errs []error
	rt := &Runtime{
		MaxFailures: c.Scheduler.MaxConsecutiveFailures,
		MaxWorkers:  c.Scheduler.Async.MaxWorkers,
		Metrics:     c.Metrics,
		Systemd:     c.Systemd,
	}

	var err error
	if rt.TickLength, err = ParseDurationOrDefault("scheduler.tick_length", c.Scheduler.TickLength, scheduler.DefaultTickLength); err != nil {
		errs = append(errs, err)
	}
	if rt.TickRate, err = ParseDurationOrDefault("scheduler.tick_rate", c.Scheduler.TickRate, rt.TickLength); err != nil {
		errs = append(errs, err)
	}
	if rt.IdleWorkerTimeout, err = ParseDurationOrDefault("scheduler.async.idle_worker_timeout", c.Scheduler.Async.IdleWorkerTimeout, scheduler.DefaultIdleWorkerTimeout); err != nil {
		errs = append(errs, err)
	}
	if rt.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_consecutive_failures: must be >= 0"))
	}
	if rt.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("scheduler.async.max_workers: must be >= 0"))
	}

	if rt.Metrics.Enabled {
		if strings.TrimSpace(rt.Metrics.Addr) == "" {
			rt.Metrics.Addr = DefaultMetricsAddr
		}
		if strings.TrimSpace(rt.Metrics.Path) == "" {
			rt.Metrics.Path = DefaultMetricsPath
		}
		if !strings.HasPrefix(rt.Metrics.Path, "/") {
			errs = append(errs, fmt.Errorf("metrics.path: must start with '/'"))
		}
	}

	st, err := resolveStorage(c.Storage)
	if err != nil {
		errs = append(errs, err)
	}
	rt.Storage = st

	tasks := []struct {
		name    string
		domain  scheduler.Domain
		cfg     TaskConfig
		def     string
		enabled bool
	}{
		{TaskStatus, scheduler.DomainSync, c.Tasks.Status, defaultStatusSchedule, true},
		{TaskPrune, scheduler.DomainAsync, c.Tasks.Prune, defaultPruneSchedule, st.Driver != "none"},
		{TaskWatchdog, scheduler.DomainAsync, c.Tasks.Watchdog, defaultWatchdogSchedule, c.Systemd.Watchdog},
	}
	for _, t := range tasks {
		raw := strings.TrimSpace(t.cfg.Schedule)
		if raw == "" {
			raw = t.def
		}
		sched, err := scheduler.ParseSchedule(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("tasks.%s.schedule: %w", t.name, err))
			continue
		}
		if sched.Interval.IsZero() {
			errs = append(errs, fmt.Errorf("tasks.%s.schedule: must repeat", t.name))
			continue
		}
		rt.Tasks = append(rt.Tasks, TaskRuntime{
			Name:     t.name,
			Domain:   t.domain,
			Enabled:  t.cfg.enabled(t.enabled),
			Raw:      raw,
			Schedule: sched,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rt, nil
}

func resolveStorage(sc *StorageConfig) (StorageRuntime, error) {
	if sc == nil {
		return StorageRuntime{Driver: "none", Keep: DefaultHistoryKeep}, nil
	}
	st := StorageRuntime{
		Driver: strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:   strings.TrimSpace(sc.Path),
		Keep:   sc.Keep,
	}
	if st.Driver == "" {
		st.Driver = "none"
	}
	if st.Keep <= 0 {
		st.Keep = DefaultHistoryKeep
	}
	bt, err := ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return st, err
	}
	st.BusyTimeout = bt
	switch st.Driver {
	case "none":
	case "file", "sqlite":
		if st.Path == "" {
			return st, fmt.Errorf("storage.path: required for driver %q", st.Driver)
		}
	default:
		return st, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
	return st, nil
}

// LogConfig maps the logging section onto the logx service config.
func (c LoggingConfig) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

// Task returns the resolved housekeeping task with the given name.
func (r *Runtime) Task(name string) (TaskRuntime, bool) {
	for _, t := range r.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return TaskRuntime{}, false
}

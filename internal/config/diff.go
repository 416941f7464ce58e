package config

import (
	"reflect"
	"strings"

	logx "tickwork/pkg/logx"
)

// SummarizeChange returns the sections that differ between two configs and
// log fields describing the new values of those sections.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_rate", strings.TrimSpace(s.TickRate)),
			logx.String("scheduler.tick_length", strings.TrimSpace(s.TickLength)),
			logx.Int("scheduler.max_consecutive_failures", s.MaxConsecutiveFailures),
			logx.String("scheduler.async.idle_worker_timeout", strings.TrimSpace(s.Async.IdleWorkerTimeout)),
			logx.Int("scheduler.async.max_workers", s.Async.MaxWorkers),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if st := newCfg.Storage; st != nil {
			attrs = append(attrs, logx.String("storage.driver", st.Driver), logx.Int("storage.keep", st.Keep))
		} else {
			attrs = append(attrs, logx.String("storage.driver", "none"))
		}
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
	}

	return changed, attrs
}

// RestartRequired reports whether the change touches settings that only take
// effect on restart (the scheduler drivers, storage and the metrics listener).
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "scheduler", "storage", "metrics":
			out = append(out, s)
		}
	}
	return out
}

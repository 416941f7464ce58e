package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics"`
	Systemd   SystemdConfig   `json:"systemd"`

	// Tasks configures the built-in housekeeping tasks. Omitted entries use
	// their defaults (see Resolve).
	Tasks TasksConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls both scheduler domains.
//
// All durations are Go duration strings (e.g. "50ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick_rate: tick_length
//   - tick_length: "50ms"
//   - max_consecutive_failures: 0 (never retire a failing task)
//   - async.idle_worker_timeout: "60s"
//   - async.max_workers: 0 (unbounded)
type SchedulerConfig struct {
	// TickRate is how often the daemon calls Tick on the sync domain.
	TickRate string `json:"tick_rate,omitempty"`
	// TickLength is the nominal length of one tick, used to convert tick
	// spans to wall time.
	TickLength             string      `json:"tick_length,omitempty"`
	MaxConsecutiveFailures int         `json:"max_consecutive_failures,omitempty"`
	Async                  AsyncConfig `json:"async"`
}

type AsyncConfig struct {
	IdleWorkerTimeout string `json:"idle_worker_timeout,omitempty"`
	MaxWorkers        int    `json:"max_workers,omitempty"`
}

// StorageConfig controls the optional run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tickwork.db", "keep": 5000 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Keep is how many runs history.prune retains. 0 means 10000.
	Keep int `json:"keep,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

// SystemdConfig enables sd_notify integration. Notify is a no-op when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}

type TasksConfig struct {
	Status   TaskConfig `json:"status"`
	Prune    TaskConfig `json:"history_prune"`
	Watchdog TaskConfig `json:"watchdog"`
}

// TaskConfig configures one housekeeping task. Enabled is a pointer so we
// can tell "omitted" (task default) from an explicit false.
type TaskConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

func (t TaskConfig) enabled(def bool) bool {
	if t.Enabled == nil {
		return def
	}
	return *t.Enabled
}

// Package metrics provides Prometheus instrumentation for tickwork components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tickwork"

// Registry holds all metric instances for scheduler components.
//
// A nil *Registry is valid: every recording method is a no-op on nil so
// callers never need to guard instrumentation.
type Registry struct {
	// Task metrics, labeled by domain ("sync" or "async").
	TasksSubmitted  *prometheus.CounterVec
	TasksExecuted   *prometheus.CounterVec
	TasksFailed     *prometheus.CounterVec
	TasksCanceled   *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	TasksRegistered *prometheus.GaugeVec

	// Async worker pool.
	PoolWorkers prometheus.Gauge
	PoolIdle    prometheus.Gauge

	// Loop metrics.
	LoopWakeups *prometheus.CounterVec
	Ticks       prometheus.Counter
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
// A nil registerer falls back to prometheus.DefaultRegisterer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Registry{
		TasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_submitted_total",
				Help:      "Total number of tasks submitted",
			},
			[]string{"domain"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_executed_total",
				Help:      "Total number of task payload invocations",
			},
			[]string{"domain"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_failed_total",
				Help:      "Total number of payload invocations that returned an error or panicked",
			},
			[]string{"domain"},
		),

		TasksCanceled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_canceled_total",
				Help:      "Total number of tasks canceled",
			},
			[]string{"domain"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing task payloads",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"domain"},
		),

		TasksRegistered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "tasks_registered",
				Help:      "Number of tasks currently held in the registry",
			},
			[]string{"domain"},
		),

		PoolWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "workers",
				Help:      "Current number of async pool workers",
			},
		),

		PoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "workerpool",
				Name:      "idle_workers",
				Help:      "Number of async pool workers waiting for work",
			},
		),

		LoopWakeups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loop",
				Name:      "wakeups_total",
				Help:      "Async loop wakeups by reason (timer, signal, changed)",
			},
			[]string{"reason"},
		),

		Ticks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "loop",
				Name:      "ticks_total",
				Help:      "Total number of synchronous ticks processed",
			},
		),
	}
}

func (r *Registry) Submitted(domain string) {
	if r != nil {
		r.TasksSubmitted.WithLabelValues(domain).Inc()
	}
}

// Executed records one payload invocation and its duration in seconds.
func (r *Registry) Executed(domain string, seconds float64, failed bool) {
	if r == nil {
		return
	}
	r.TasksExecuted.WithLabelValues(domain).Inc()
	r.TaskDuration.WithLabelValues(domain).Observe(seconds)
	if failed {
		r.TasksFailed.WithLabelValues(domain).Inc()
	}
}

func (r *Registry) Canceled(domain string) {
	if r != nil {
		r.TasksCanceled.WithLabelValues(domain).Inc()
	}
}

func (r *Registry) Registered(domain string, n int) {
	if r != nil {
		r.TasksRegistered.WithLabelValues(domain).Set(float64(n))
	}
}

func (r *Registry) Pool(workers, idle int) {
	if r == nil {
		return
	}
	r.PoolWorkers.Set(float64(workers))
	r.PoolIdle.Set(float64(idle))
}

func (r *Registry) Wakeup(reason string) {
	if r != nil {
		r.LoopWakeups.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) Tick() {
	if r != nil {
		r.Ticks.Inc()
	}
}

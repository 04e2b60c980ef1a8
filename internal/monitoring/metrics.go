// Package monitoring holds the Prometheus metrics of one bridge instance.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	// Engine metrics
	Dispatches       prometheus.Counter
	DispatchDropped  prometheus.Counter
	ScriptErrors     prometheus.Counter
	Reapplies        prometheus.Counter
	ContextsActive   prometheus.Gauge
	UnitsLoaded      prometheus.Counter
	UnitLoadFailures prometheus.Counter

	// Bridge metrics
	Subscriptions prometheus.Gauge
	Wrappers      *prometheus.GaugeVec

	// Async metrics
	TimersActive     prometheus.Gauge
	ProcessesSpawned *prometheus.CounterVec
	Requests         *prometheus.CounterVec

	// Control server metrics
	ControlRequests *prometheus.CounterVec
	ControlDuration *prometheus.HistogramVec

	startTime time.Time
}

// NewMetrics creates metrics on a fresh registry, so independent instances
// (and tests) never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_dispatch_total",
			Help: "Callbacks dispatched into the script engine",
		}),
		DispatchDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_dispatch_dropped_total",
			Help: "Callbacks dropped because no engine context was available",
		}),
		ScriptErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_script_errors_total",
			Help: "Script exceptions caught at the native boundary",
		}),
		Reapplies: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_reapply_total",
			Help: "Engine context rebuilds",
		}),
		ContextsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scriptbridge_contexts_active",
			Help: "Live engine contexts (0 or 1)",
		}),
		UnitsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_units_loaded_total",
			Help: "Executable units compiled and run",
		}),
		UnitLoadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scriptbridge_unit_load_failures_total",
			Help: "Executable units that failed to load or compile",
		}),
		Subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scriptbridge_subscriptions_active",
			Help: "Live signal subscriptions",
		}),
		Wrappers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scriptbridge_wrappers_cached",
			Help: "Cached object wrappers by lifetime policy",
		}, []string{"policy"}),
		TimersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scriptbridge_timers_active",
			Help: "Armed script timers",
		}),
		ProcessesSpawned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbridge_processes_spawned_total",
			Help: "Subprocesses started by scripts",
		}, []string{"mode"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbridge_net_requests_total",
			Help: "HTTP requests made by scripts",
		}, []string{"outcome"}),
		ControlRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptbridge_control_requests_total",
			Help: "Remote-control requests",
		}, []string{"method", "path", "status"}),
		ControlDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scriptbridge_control_request_duration_seconds",
			Help:    "Remote-control request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scriptbridge_uptime_seconds",
		Help: "Seconds since the bridge started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// RecordControlRequest records one remote-control request.
func (m *Metrics) RecordControlRequest(method, path, status string, duration time.Duration) {
	m.ControlRequests.WithLabelValues(method, path, status).Inc()
	m.ControlDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ABOUTME: Prometheus collectors for dispatch, admission, and failure reporting
// ABOUTME: All methods are nil-safe so components run without metrics in tests

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/harper/rpcd/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rpcd"

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// UnmatchedMethod labels requests that matched no route, so arbitrary
// client method names never become label values.
const UnmatchedMethod = "_unmatched"

type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	overflows   *prometheus.CounterVec
	connections *prometheus.GaugeVec
	reported    prometheus.Counter
	workers     prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled, by route method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from decode to encoded response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_overflows_total",
			Help:      "Payloads rejected by the admission ceiling, by worker.",
		}, []string{"worker"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_connections",
			Help:      "Connections tracked by each worker's admission controller.",
		}, []string{"worker"}),
		reported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reported_failures_total",
			Help:      "Handler and middleware failures sent to the report sink.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_serving",
			Help:      "Workers currently in the serving state.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.duration,
		m.overflows,
		m.connections,
		m.reported,
		m.workers,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = UnmatchedMethod
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) Overflow(worker int) {
	if m == nil {
		return
	}
	m.overflows.WithLabelValues(strconv.Itoa(worker)).Inc()
}

func (m *Metrics) SetConnections(worker, n int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(strconv.Itoa(worker)).Set(float64(n))
}

func (m *Metrics) Reported() {
	if m == nil {
		return
	}
	m.reported.Inc()
}

func (m *Metrics) WorkerServing(delta int) {
	if m == nil {
		return
	}
	m.workers.Add(float64(delta))
}

// promLogger implements promhttp.Logger
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	logger.Error("[metrics] %v", v)
}

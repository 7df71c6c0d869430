package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/kiln/internal/core/ports"
)

var _ ports.Metrics = (*Metrics)(nil)

// Metrics records engine counters in a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	workerCrashes prometheus.Counter
	invalidations *prometheus.CounterVec
}

// NewMetrics registers the kiln collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_requests_total",
			Help: "Requests finished, by request type and outcome",
		}, []string{"type", "outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kiln_request_duration_seconds",
			Help:    "Time from request start to completion",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
		}, []string{"type"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_cache_lookups_total",
			Help: "Content store lookups, by backend and result",
		}, []string{"backend", "result"}),
		workerCrashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "kiln_worker_crashes_total",
			Help: "Worker processes that died while running a task",
		}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kiln_invalidations_total",
			Help: "Nodes invalidated, by trigger kind",
		}, []string{"kind"}),
	}
}

// RequestFinished counts a request outcome and observes its duration.
func (m *Metrics) RequestFinished(requestType, outcome string, d time.Duration) {
	m.requests.WithLabelValues(requestType, outcome).Inc()
	m.durations.WithLabelValues(requestType).Observe(d.Seconds())
}

// CacheLookup counts a content store lookup.
func (m *Metrics) CacheLookup(backend, result string) {
	m.cacheLookups.WithLabelValues(backend, result).Inc()
}

// WorkerCrashed counts a worker death.
func (m *Metrics) WorkerCrashed() {
	m.workerCrashes.Inc()
}

// Invalidated counts n nodes invalidated by a trigger kind.
func (m *Metrics) Invalidated(kind string, n int) {
	m.invalidations.WithLabelValues(kind).Add(float64(n))
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

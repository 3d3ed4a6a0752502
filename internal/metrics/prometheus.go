// Package metrics provides Prometheus metrics exporting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all loql metrics. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
	backgroundRefreshes *prometheus.CounterVec
	storeErrorsTotal    prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loql",
				Name:      "requests_total",
				Help:      "Total number of served GraphQL requests",
			},
			[]string{"endpoint", "outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "loql",
				Name:      "request_duration_seconds",
				Help:      "GraphQL request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loql",
				Name:      "cache_hits_total",
				Help:      "Total number of operations served from cache",
			},
			[]string{"endpoint"},
		),
		cacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loql",
				Name:      "cache_misses_total",
				Help:      "Total number of operations served from the network",
			},
			[]string{"endpoint"},
		),
		backgroundRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loql",
				Name:      "background_refreshes_total",
				Help:      "Total number of detached cache revalidations",
			},
			[]string{"status"},
		),
		storeErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loql",
				Name:      "store_errors_total",
				Help:      "Total number of key/value store failures",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.backgroundRefreshes,
		m.storeErrorsTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordServed records the cache outcome of one served operation.
func (m *Metrics) RecordServed(endpoint string, cached bool) {
	if m == nil {
		return
	}
	if cached {
		m.cacheHitsTotal.WithLabelValues(endpoint).Inc()
		m.requestsTotal.WithLabelValues(endpoint, "hit").Inc()
	} else {
		m.cacheMissesTotal.WithLabelValues(endpoint).Inc()
		m.requestsTotal.WithLabelValues(endpoint, "miss").Inc()
	}
}

// RecordBypass records an operation that skipped the cache path entirely.
func (m *Metrics) RecordBypass(endpoint string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, "bypass").Inc()
}

// RecordOutcome records a served request with an explicit outcome label,
// such as failopen or unmatched.
func (m *Metrics) RecordOutcome(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(endpoint, outcome).Inc()
}

// RecordBackgroundRefresh records a detached revalidation completion.
func (m *Metrics) RecordBackgroundRefresh(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.backgroundRefreshes.WithLabelValues(status).Inc()
}

// RecordStoreError counts a key/value store failure.
func (m *Metrics) RecordStoreError() {
	if m == nil {
		return
	}
	m.storeErrorsTotal.Inc()
}

// ObserveRequestDuration records how long a request took to serve.
func (m *Metrics) ObserveRequestDuration(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

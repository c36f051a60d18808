// Package metrics provides Prometheus metrics collection
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Engine metrics
	EngineAlive       prometheus.Gauge
	EngineRestarts    prometheus.Counter
	QueriesInFlight   prometheus.Gauge
	QueryDuration     *prometheus.HistogramVec
	OrphanLines       prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		EngineAlive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katago_engine_alive",
				Help: "Whether the engine subprocess is currently usable (1) or dead (0)",
			},
		),
		EngineRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katago_engine_restarts_total",
				Help: "Total number of engine restart attempts",
			},
		),
		QueriesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "katago_queries_in_flight",
				Help: "Current number of analysis queries awaiting a response",
			},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "katago_query_duration_seconds",
				Help:    "Analysis query duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		OrphanLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katago_orphan_lines_total",
				Help: "Responses whose id matched no pending request",
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katago_cache_hits_total",
				Help: "Analysis results served from the cache",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "katago_cache_misses_total",
				Help: "Analysis requests that missed the cache",
			},
		),
	}

	registerer.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.EngineAlive,
		m.EngineRestarts,
		m.QueriesInFlight,
		m.QueryDuration,
		m.OrphanLines,
		m.CacheHits,
		m.CacheMisses,
	)

	return m
}

// RecordHTTPRequest records one completed HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// IncrementInFlight increments the in-flight HTTP gauge
func (m *Metrics) IncrementInFlight() {
	if m == nil {
		return
	}
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight HTTP gauge
func (m *Metrics) DecrementInFlight() {
	if m == nil {
		return
	}
	m.RequestsInFlight.Dec()
}

// SetEngineAlive records the engine liveness flag
func (m *Metrics) SetEngineAlive(alive bool) {
	if m == nil {
		return
	}
	if alive {
		m.EngineAlive.Set(1)
	} else {
		m.EngineAlive.Set(0)
	}
}

// RecordRestart counts one engine restart attempt
func (m *Metrics) RecordRestart() {
	if m == nil {
		return
	}
	m.EngineRestarts.Inc()
}

// QueryStarted increments the in-flight query gauge
func (m *Metrics) QueryStarted() {
	if m == nil {
		return
	}
	m.QueriesInFlight.Inc()
}

// QueryFinished decrements the in-flight query gauge and records duration
func (m *Metrics) QueryFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueriesInFlight.Dec()
	m.QueryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordOrphan counts one response line with no registered waiter
func (m *Metrics) RecordOrphan() {
	if m == nil {
		return
	}
	m.OrphanLines.Inc()
}

// RecordCacheHit counts one cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// RecordCacheMiss counts one cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes prometheus collectors for the admission core and the
// HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec

	queueOperations *prometheus.CounterVec
	waitingSessions *prometheus.GaugeVec
	activeSessions  *prometheus.GaugeVec
	releaseTickSecs prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
}

// NewMetrics initializes and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_errors_total",
				Help: "Total HTTP errors by code",
			},
			[]string{"path", "method", "code"},
		),
		queueOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_operations_total",
				Help: "Total queue operations",
			},
			[]string{"operation", "queue_id", "status"},
		),
		waitingSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_waiting_sessions",
				Help: "Current number of waiting sessions per queue",
			},
			[]string{"queue_id"},
		),
		activeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_active_sessions",
				Help: "Current number of active sessions per queue",
			},
			[]string{"queue_id"},
		),
		releaseTickSecs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "release_tick_duration_seconds",
				Help:    "Duration of release scheduler ticks",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "position_cache_lookups_total",
				Help: "Position cache lookups by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpErrors,
		m.queueOperations,
		m.waitingSessions,
		m.activeSessions,
		m.releaseTickSecs,
		m.cacheLookups,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(path, method, code).Inc()
}

// RecordQueueOperation counts one admission-core operation result.
func (m *Metrics) RecordQueueOperation(operation, queueID, status string) {
	if m == nil {
		return
	}
	m.queueOperations.WithLabelValues(operation, queueID, status).Inc()
}

// SetSessionGauges updates the waiting/active gauges for a queue.
func (m *Metrics) SetSessionGauges(queueID string, waiting, active int) {
	if m == nil {
		return
	}
	m.waitingSessions.WithLabelValues(queueID).Set(float64(waiting))
	m.activeSessions.WithLabelValues(queueID).Set(float64(active))
}

// ObserveReleaseTick records a tick duration.
func (m *Metrics) ObserveReleaseTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.releaseTickSecs.Observe(duration.Seconds())
}

// RecordCacheLookup counts a position cache hit or miss.
func (m *Metrics) RecordCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

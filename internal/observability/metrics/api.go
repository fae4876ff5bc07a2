// Package metrics provides API metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a status write served by the API.
const (
	// StatusWriteApplied marks a write whose aggregates were updated in place.
	StatusWriteApplied = "applied"
	// StatusWriteDeferred marks a write over a legacy tag; the next rebuild counts it.
	StatusWriteDeferred = "deferred"
	// StatusWriteAggregateFailed marks a stored write whose aggregate update failed.
	StatusWriteAggregateFailed = "aggregate_failed"
	// StatusWriteRejected marks a write refused before reaching the store.
	StatusWriteRejected = "rejected"
)

// APIMetrics contains Prometheus metrics for the aggregate API
type APIMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// statusWritesTotal splits PUT /words/:wordId/status by what happened to the aggregates
	statusWritesTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewAPIMetrics creates and registers new API metrics
func NewAPIMetrics(registry *prometheus.Registry) (*APIMetrics, error) {
	m := &APIMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *APIMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests by route template",
		},
		[]string{"method", "route", "code"}, // route: /api/v1/learners/:ownerId/aggregate, unmatched
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Time taken to serve API requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"route"},
	)

	m.statusWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_status_writes_total",
			Help: "Total number of word status writes by aggregate outcome",
		},
		[]string{"outcome"}, // outcome: applied, deferred, aggregate_failed, rejected
	)

	m.collectors = []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.statusWritesTotal,
	}
}

// Describe implements the Collector interface
func (m *APIMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *APIMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRequest records one served request under its route template
func (m *APIMetrics) RecordRequest(method, route, code string, seconds float64) {
	m.requestsTotal.WithLabelValues(method, route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordStatusWrite records the outcome of one status write
func (m *APIMetrics) RecordStatusWrite(outcome string) {
	m.statusWritesTotal.WithLabelValues(outcome).Inc()
}

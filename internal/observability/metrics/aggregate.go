// Package metrics provides aggregate maintenance metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AggregateMetrics contains Prometheus metrics for incremental updates, rebuilds and display reads
type AggregateMetrics struct {
	registry *prometheus.Registry

	// Incremental updater metrics
	statusChangesTotal    *prometheus.CounterVec
	aggregateUpdatesTotal *prometheus.CounterVec
	updateDuration        prometheus.Histogram

	// Rebuild metrics
	rebuildsTotal   *prometheus.CounterVec
	rebuildDuration *prometheus.HistogramVec

	// Display cache metrics
	cacheLookupsTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewAggregateMetrics creates and registers new aggregate metrics
func NewAggregateMetrics(registry *prometheus.Registry) (*AggregateMetrics, error) {
	m := &AggregateMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *AggregateMetrics) initMetrics() {
	m.statusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_changes_total",
			Help: "Total number of status transitions applied to aggregates",
		},
		[]string{"result"}, // result: success, error, noop
	)

	m.aggregateUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_updates_total",
			Help: "Total number of aggregate documents updated incrementally",
		},
		[]string{"scope"}, // scope: learner, analysis
	)

	m.updateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregate_update_duration_seconds",
			Help:    "Time taken to apply one status transition to all affected aggregates",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
	)

	m.rebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_rebuilds_total",
			Help: "Total number of single-aggregate rebuilds",
		},
		[]string{"scope", "result"},
	)

	m.rebuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregate_rebuild_duration_seconds",
			Help:    "Time taken to rebuild one aggregate",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"scope"},
	)

	m.cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregate_display_cache_lookups_total",
			Help: "Display cache lookups by outcome",
		},
		[]string{"scope", "outcome"}, // outcome: hit, miss
	)

	m.collectors = []prometheus.Collector{
		m.statusChangesTotal,
		m.aggregateUpdatesTotal,
		m.updateDuration,
		m.rebuildsTotal,
		m.rebuildDuration,
		m.cacheLookupsTotal,
	}
}

// Describe implements the Collector interface
func (m *AggregateMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *AggregateMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordStatusChange records one ApplyStatusChange call and its duration
func (m *AggregateMetrics) RecordStatusChange(result string, seconds float64) {
	m.statusChangesTotal.WithLabelValues(result).Inc()
	if result != ResultNoop {
		m.updateDuration.Observe(seconds)
	}
}

// RecordAggregateUpdate records one incrementally updated aggregate
func (m *AggregateMetrics) RecordAggregateUpdate(scope string) {
	m.aggregateUpdatesTotal.WithLabelValues(scope).Inc()
}

// RecordRebuild records one single-aggregate rebuild
func (m *AggregateMetrics) RecordRebuild(scope, result string, seconds float64) {
	m.rebuildsTotal.WithLabelValues(scope, result).Inc()
	m.rebuildDuration.WithLabelValues(scope).Observe(seconds)
}

// RecordCacheLookup records a display cache hit or miss
func (m *AggregateMetrics) RecordCacheLookup(scope string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(scope, outcome).Inc()
}

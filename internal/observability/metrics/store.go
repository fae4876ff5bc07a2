// Package metrics provides store metrics for observability
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics contains Prometheus metrics for the word and aggregate store
type StoreMetrics struct {
	registry *prometheus.Registry

	// retries are labelled by the transactional operation, e.g. update_learner_aggregate
	transactionRetriesTotal *prometheus.CounterVec

	connections     *prometheus.GaugeVec
	connectionWaits prometheus.Gauge

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewStoreMetrics creates and registers new store metrics
func NewStoreMetrics(registry *prometheus.Registry) (*StoreMetrics, error) {
	m := &StoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StoreMetrics) initMetrics() {
	m.transactionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_transaction_retries_total",
			Help: "Total number of store transactions retried after lock contention",
		},
		[]string{"operation", "reason"}, // reason: sqlite_busy, sqlite_locked, deadlock, lock_wait_timeout
	)

	m.connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_connections",
			Help: "Store connections by pool state",
		},
		[]string{"state"}, // state: open, in_use, idle
	)

	m.connectionWaits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_connection_waits",
			Help: "Number of times a caller waited for a free store connection since startup",
		},
	)

	m.collectors = []prometheus.Collector{
		m.transactionRetriesTotal,
		m.connections,
		m.connectionWaits,
	}
}

// Describe implements the Collector interface
func (m *StoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *StoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordTransactionRetry records one retry of operation
func (m *StoreMetrics) RecordTransactionRetry(operation, reason string) {
	m.transactionRetriesTotal.WithLabelValues(operation, reason).Inc()
}

// UpdatePoolStats copies a connection pool snapshot into the gauges
func (m *StoreMetrics) UpdatePoolStats(stats sql.DBStats) {
	m.connections.WithLabelValues("open").Set(float64(stats.OpenConnections))
	m.connections.WithLabelValues("in_use").Set(float64(stats.InUse))
	m.connections.WithLabelValues("idle").Set(float64(stats.Idle))
	m.connectionWaits.Set(float64(stats.WaitCount))
}

// Package metrics provides background job metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics contains Prometheus metrics for detached jobs, the legacy migration and the identity provider
type JobMetrics struct {
	registry *prometheus.Registry

	// Runner metrics
	jobRunsTotal    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsRunning     *prometheus.GaugeVec
	leaseConflicts  *prometheus.CounterVec
	notifySentTotal *prometheus.CounterVec

	// Legacy migration metrics
	migrationRecordsTotal *prometheus.CounterVec
	migrationBatchesTotal prometheus.Counter

	// Identity provider metrics
	identityRequestsTotal *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewJobMetrics creates and registers new job metrics
func NewJobMetrics(registry *prometheus.Registry) (*JobMetrics, error) {
	m := &JobMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *JobMetrics) initMetrics() {
	m.jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Total number of finished job runs",
		},
		[]string{"kind", "result"}, // result: success, error, cancelled
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of job runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12), // 100ms to ~3.4min
		},
		[]string{"kind"},
	)

	m.jobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Jobs currently running in this process",
		},
		[]string{"kind"},
	)

	m.leaseConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_lease_conflicts_total",
			Help: "Start attempts refused because the lease was held",
		},
		[]string{"kind"},
	)

	m.notifySentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_notifications_total",
			Help: "Job completion notifications by result",
		},
		[]string{"result"},
	)

	m.migrationRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legacy_migration_records_total",
			Help: "Word records visited by the legacy status migration",
		},
		[]string{"outcome"}, // outcome: migrated, skipped, defaulted
	)

	m.migrationBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "legacy_migration_batches_total",
			Help: "Batches written by the legacy status migration",
		},
	)

	m.identityRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_requests_total",
			Help: "User directory page requests",
		},
		[]string{"provider", "result"},
	)

	m.collectors = []prometheus.Collector{
		m.jobRunsTotal,
		m.jobDuration,
		m.jobsRunning,
		m.leaseConflicts,
		m.notifySentTotal,
		m.migrationRecordsTotal,
		m.migrationBatchesTotal,
		m.identityRequestsTotal,
	}
}

// Describe implements the Collector interface
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordJobStarted marks a job kind as running
func (m *JobMetrics) RecordJobStarted(kind string) {
	m.jobsRunning.WithLabelValues(kind).Inc()
}

// RecordJobFinished records a finished run and clears the running gauge
func (m *JobMetrics) RecordJobFinished(kind, result string, seconds float64) {
	m.jobsRunning.WithLabelValues(kind).Dec()
	m.jobRunsTotal.WithLabelValues(kind, result).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordLeaseConflict records a refused start
func (m *JobMetrics) RecordLeaseConflict(kind string) {
	m.leaseConflicts.WithLabelValues(kind).Inc()
}

// RecordNotification records a completion notification attempt
func (m *JobMetrics) RecordNotification(result string) {
	m.notifySentTotal.WithLabelValues(result).Inc()
}

// RecordMigrationRecords adds n visited records with the given outcome
func (m *JobMetrics) RecordMigrationRecords(outcome string, n int) {
	if n > 0 {
		m.migrationRecordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordMigrationBatch records one written migration batch
func (m *JobMetrics) RecordMigrationBatch() {
	m.migrationBatchesTotal.Inc()
}

// RecordIdentityRequest records one user directory page request
func (m *JobMetrics) RecordIdentityRequest(provider, result string) {
	m.identityRequestsTotal.WithLabelValues(provider, result).Inc()
}

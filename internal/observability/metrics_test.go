package observability

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// since every instance owns a private registry
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for range numGoroutines {
		go func() {
			defer wg.Done()
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Aggregate == nil || m.Jobs == nil || m.Store == nil || m.API == nil {
				t.Error("NewMetrics returned partially initialized metrics")
			}
		}()
	}

	wg.Wait()
}

func TestRecordersUpdateRegistry(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Aggregate.RecordStatusChange(metrics.ResultSuccess, 0.01)
	m.Aggregate.RecordStatusChange(metrics.ResultNoop, 0)
	m.Aggregate.RecordAggregateUpdate(metrics.ScopeLearner)
	m.Aggregate.RecordAggregateUpdate(metrics.ScopeAnalysis)
	m.Aggregate.RecordAggregateUpdate(metrics.ScopeAnalysis)
	m.Jobs.RecordMigrationRecords(metrics.OutcomeMigrated, 3)
	m.Jobs.RecordMigrationRecords(metrics.OutcomeSkipped, 0)
	m.Store.RecordTransactionRetry("update_learner_aggregate", "sqlite_busy")
	m.Store.RecordTransactionRetry("update_learner_aggregate", "sqlite_busy")

	expected := `
# HELP aggregate_updates_total Total number of aggregate documents updated incrementally
# TYPE aggregate_updates_total counter
aggregate_updates_total{scope="analysis"} 2
aggregate_updates_total{scope="learner"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "aggregate_updates_total"))

	count, err := testutil.GatherAndCount(m.Registry(), "status_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(m.Registry(), "legacy_migration_records_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "zero additions must not create a series")

	expected = `
# HELP store_transaction_retries_total Total number of store transactions retried after lock contention
# TYPE store_transaction_retries_total counter
store_transaction_retries_total{operation="update_learner_aggregate",reason="sqlite_busy"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "store_transaction_retries_total"))
}

func TestStatusWritesByOutcome(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.API.RecordStatusWrite(metrics.StatusWriteApplied)
	m.API.RecordStatusWrite(metrics.StatusWriteApplied)
	m.API.RecordStatusWrite(metrics.StatusWriteDeferred)
	m.API.RecordStatusWrite(metrics.StatusWriteRejected)

	expected := `
# HELP api_status_writes_total Total number of word status writes by aggregate outcome
# TYPE api_status_writes_total counter
api_status_writes_total{outcome="applied"} 2
api_status_writes_total{outcome="deferred"} 1
api_status_writes_total{outcome="rejected"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "api_status_writes_total"))
}

func TestStorePoolStats(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Store.UpdatePoolStats(sql.DBStats{OpenConnections: 3, InUse: 1, Idle: 2, WaitCount: 7})

	expected := `
# HELP store_connection_waits Number of times a caller waited for a free store connection since startup
# TYPE store_connection_waits gauge
store_connection_waits 7
# HELP store_connections Store connections by pool state
# TYPE store_connections gauge
store_connections{state="idle"} 2
store_connections{state="in_use"} 1
store_connections{state="open"} 3
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"store_connections", "store_connection_waits"))
}

func TestJobGaugeTracksRunningJobs(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Jobs.RecordJobStarted("legacy_status_migration")
	m.Jobs.RecordJobFinished("legacy_status_migration", metrics.ResultCancelled, 1.5)

	expected := `
# HELP jobs_running Jobs currently running in this process
# TYPE jobs_running gauge
jobs_running{kind="legacy_status_migration"} 0
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "jobs_running"))
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.API.RecordRequest(http.MethodGet, "/healthz", "200", 0.002)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `api_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexitally/vocabstats/internal/aggregate"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/identity"
	"github.com/lexitally/vocabstats/internal/migration"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
	"github.com/lexitally/vocabstats/internal/testutil"
)

type recordedRequest struct {
	method, path, status string
}

type fakeRecorder struct {
	mu           sync.Mutex
	requests     []recordedRequest
	statusWrites map[string]int
}

func (f *fakeRecorder) RecordRequest(method, route, code string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, route, code})
}

func (f *fakeRecorder) RecordStatusWrite(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusWrites == nil {
		f.statusWrites = map[string]int{}
	}
	f.statusWrites[outcome]++
}

func (f *fakeRecorder) statusWriteCount(outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusWrites[outcome]
}

type testServer struct {
	echo     *echo.Echo
	store    *testutil.Store
	runner   *migration.Runner
	recorder *fakeRecorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testutil.NewStore(t)
	log := testutil.DiscardLogger()
	deps := aggregate.Deps{
		Tx:       store.Tx,
		Words:    store.Words,
		Analyses: store.Analyses,
		Learners: store.Learners,
		Cache:    aggregate.NewDisplayCache(time.Minute),
		Logger:   log,
	}
	rebuilder := aggregate.NewRebuilder(deps, identity.NewStoreProvider(store.Learners, nil), aggregate.RebuildOptions{})
	legacy := migration.NewLegacyStatusJob(store.Tx, store.Words, migration.LegacyOptions{}, nil, log)
	runner := migration.NewRunner(context.Background(), store.Progress, 2*time.Minute, migration.RunnerOptions{Logger: log})
	t.Cleanup(runner.Wait)
	service := migration.NewService(runner, legacy, rebuilder, migration.NewOrchestrator(migration.DefaultSteps(rebuilder, legacy), log))

	recorder := &fakeRecorder{}
	e := echo.New()
	New(e, Deps{
		Jobs:           service,
		Reader:         aggregate.NewReader(deps),
		Updater:        aggregate.NewUpdater(deps),
		Words:          store.Words,
		Tx:             store.Tx,
		Recorder:       recorder,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
		Logger:         log,
	})
	return &testServer{echo: e, store: store, runner: runner, recorder: recorder}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, http.NoBody)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestStartLegacyMigration(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "to_learn")
	s.store.SeedWord(t, "w2", "u1", "3")

	rec := s.do(t, http.MethodGet, "/api/v1/admin/migration-progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"not_started"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/admin/start-legacy-migration", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, StartResponse{Started: true}, decode[StartResponse](t, rec))
	s.runner.Wait()

	rec = s.do(t, http.MethodGet, "/api/v1/admin/migration-progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode[entities.JobProgress](t, rec)
	assert.Equal(t, entities.JobStatusCompleted, progress.Status)
	assert.Equal(t, int64(2), progress.Total)
	assert.Equal(t, int64(1), progress.MigratedCount)
	assert.Equal(t, int64(1), progress.SkippedCount)
	assert.Nil(t, progress.Error)
}

func TestStartJob_ConflictWhenLeaseHeld(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	_, err := s.store.Progress.AcquireLease(context.Background(), entities.JobMultiStepMigration)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/start-multi-step-migration", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[StartResponse](t, rec)
	assert.False(t, resp.Started)
	assert.NotEmpty(t, resp.Error)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/multi-step-progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.JobStatusRunning, decode[entities.JobProgress](t, rec).Status)
}

func TestRebuildEndpoints(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	for i, status := range []string{"1", "1", "4", "6", "6", "6"} {
		id := "w" + string(rune('a'+i))
		s.store.SeedWord(t, id, "u1", status)
	}
	s.store.SeedAnalysis(t, "a1", "u1", "wa", "wb", "wc", "wd", "we", "wf")

	rec := s.do(t, http.MethodGet, "/api/v1/analyses/a1/aggregate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[AnalysisAggregateResponse](t, rec)
	assert.False(t, before.Computed)
	assert.Zero(t, before.Counts.Total())

	rec = s.do(t, http.MethodPost, "/api/v1/admin/start-analysis-aggregate-rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RebuildResponse{Success: true, Processed: 1}, decode[RebuildResponse](t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/admin/start-learner-aggregate-rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, RebuildResponse{Success: true, Processed: 1}, decode[RebuildResponse](t, rec))

	want := entities.StatusCounts{1: 2, 2: 0, 3: 0, 4: 1, 5: 0, 6: 3, 7: 0}

	rec = s.do(t, http.MethodGet, "/api/v1/analyses/a1/aggregate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := decode[AnalysisAggregateResponse](t, rec)
	assert.True(t, analysis.Computed)
	assert.Equal(t, "a1", analysis.AnalysisID)
	assert.Equal(t, want, analysis.Counts)

	rec = s.do(t, http.MethodGet, "/api/v1/learners/u1/aggregate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	learner := decode[LearnerAggregateResponse](t, rec)
	assert.True(t, learner.Computed)
	assert.Equal(t, want, learner.Counts)
}

func TestRebuildEndpoint_ConflictWhenLeaseHeld(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	_, err := s.store.Progress.AcquireLease(context.Background(), entities.JobAnalysisAggregateRebuild)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/start-analysis-aggregate-rebuild", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[RebuildResponse](t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestAnalysisAggregate_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/analyses/missing/aggregate", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Len(t, resp.CorrelationID, 8)
}

func TestUpdateWordStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "2")
	s.store.SeedWord(t, "w2", "u1", "2")
	s.store.SeedAnalysis(t, "a1", "u1", "w1", "w2")
	rec := s.do(t, http.MethodPost, "/api/v1/admin/start-learner-aggregate-rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// prime the display cache so the update must invalidate it
	rec = s.do(t, http.MethodGet, "/api/v1/learners/u1/aggregate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/words/w1/status", `{"status":"5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusChangeResponse{WordID: "w1", OldStatus: "2", Status: "5", AggregatesUpdated: true},
		decode[StatusChangeResponse](t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/learners/u1/aggregate", "")
	learner := decode[LearnerAggregateResponse](t, rec)
	assert.Equal(t, int64(1), learner.Counts[2])
	assert.Equal(t, int64(1), learner.Counts[5])
	assert.Equal(t, int64(2), learner.Counts.Total())

	rec = s.do(t, http.MethodGet, "/api/v1/analyses/a1/aggregate", "")
	analysis := decode[AnalysisAggregateResponse](t, rec)
	assert.True(t, analysis.Computed, "the incremental update initializes a missing analysis aggregate")
	assert.Equal(t, int64(1), analysis.Counts[5])
	assert.Equal(t, 1, s.recorder.statusWriteCount(metrics.StatusWriteApplied))
}

func TestUpdateWordStatus_LegacyPreviousStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "well_known")

	rec := s.do(t, http.MethodPut, "/api/v1/words/w1/status", `{"status":"3"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatusChangeResponse](t, rec)
	assert.Equal(t, "well_known", resp.OldStatus)
	assert.False(t, resp.AggregatesUpdated)

	status, _ := s.store.WordStatus(t, "w1")
	assert.Equal(t, "3", status, "the status write is kept")
	assert.Equal(t, 1, s.recorder.statusWriteCount(metrics.StatusWriteDeferred))
	assert.Zero(t, s.recorder.statusWriteCount(metrics.StatusWriteApplied))
}

func TestUpdateWordStatus_StoresCanonicalLevel(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "1")
	s.store.SeedWord(t, "w2", "u1", "1")
	s.store.SeedAnalysis(t, "a1", "u1", "w1", "w2")

	for id, body := range map[string]string{"w1": `{"status":"+3"}`, "w2": `{"status":"03"}`} {
		rec := s.do(t, http.MethodPut, "/api/v1/words/"+id+"/status", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "3", decode[StatusChangeResponse](t, rec).Status)

		status, _ := s.store.WordStatus(t, id)
		assert.Equal(t, "3", status)
	}

	// both rebuilds count every word, so learner and analysis sums agree
	for _, route := range []string{"start-analysis-aggregate-rebuild", "start-learner-aggregate-rebuild"} {
		rec := s.do(t, http.MethodPost, "/api/v1/admin/"+route, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	want := entities.StatusCounts{1: 0, 2: 0, 3: 2, 4: 0, 5: 0, 6: 0, 7: 0}

	rec := s.do(t, http.MethodGet, "/api/v1/analyses/a1/aggregate", "")
	assert.Equal(t, want, decode[AnalysisAggregateResponse](t, rec).Counts)
	rec = s.do(t, http.MethodGet, "/api/v1/learners/u1/aggregate", "")
	assert.Equal(t, want, decode[LearnerAggregateResponse](t, rec).Counts)
}

func TestUpdateWordStatus_ConcurrentWritesSeeOnePreviousStatus(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "1")
	rec := s.do(t, http.MethodPost, "/api/v1/admin/start-learner-aggregate-rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)

	const writers = 8
	var (
		mu       sync.Mutex
		previous []string
		wg       sync.WaitGroup
	)
	for range writers {
		wg.Go(func() {
			rec := s.do(t, http.MethodPut, "/api/v1/words/w1/status", `{"status":"5"}`)
			if !assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String()) {
				return
			}
			var resp StatusChangeResponse
			if assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp)) {
				mu.Lock()
				previous = append(previous, resp.OldStatus)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	require.Len(t, previous, writers)
	var fromOne int
	for _, old := range previous {
		if old == "1" {
			fromOne++
		}
	}
	assert.Equal(t, 1, fromOne, "exactly one write observes the original status")

	counts, err := s.store.Learners.GetAggregate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[1])
	assert.Equal(t, int64(1), counts[5])
	assert.Equal(t, int64(1), counts.Total())
}

func TestUpdateWordStatus_Errors(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	s.store.SeedWord(t, "w1", "u1", "2")

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"level out of range", "/api/v1/words/w1/status", `{"status":"8"}`, http.StatusBadRequest},
		{"legacy tag rejected", "/api/v1/words/w1/status", `{"status":"known"}`, http.StatusBadRequest},
		{"padded level out of range", "/api/v1/words/w1/status", `{"status":"+08"}`, http.StatusBadRequest},
		{"malformed body", "/api/v1/words/w1/status", `{"status":`, http.StatusBadRequest},
		{"unknown word", "/api/v1/words/nope/status", `{"status":"3"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	status, _ := s.store.WordStatus(t, "w1")
	assert.Equal(t, "2", status)
	assert.Equal(t, 4, s.recorder.statusWriteCount(metrics.StatusWriteRejected))
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/jobs/legacy_status_migration/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CancelResponse{Cancelled: false}, decode[CancelResponse](t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/admin/jobs/bogus/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())

	s.do(t, http.MethodGet, "/api/v1/learners/u9/aggregate", "")
	s.recorder.mu.Lock()
	defer s.recorder.mu.Unlock()
	assert.Contains(t, s.recorder.requests,
		recordedRequest{http.MethodGet, "/api/v1/learners/:ownerId/aggregate", "200"})
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	build := func(c errors.ErrorCategory) error {
		return errors.New(errors.NewStd("boom")).Category(c).Build()
	}
	assert.Equal(t, http.StatusConflict, StatusCode(build(errors.CategoryConflict)))
	assert.Equal(t, http.StatusBadRequest, StatusCode(build(errors.CategoryValidation)))
	assert.Equal(t, http.StatusNotFound, StatusCode(build(errors.CategoryNotFound)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(build(errors.CategoryDatabase)))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.NewStd("plain")))
}

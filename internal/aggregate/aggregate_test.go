package aggregate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/identity"
	"github.com/lexitally/vocabstats/internal/testutil"
)

// recordingMetrics counts recorder calls.
type recordingMetrics struct {
	mu            sync.Mutex
	statusChanges map[string]int
	updates       map[string]int
	rebuilds      map[string]int
	cacheHits     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		statusChanges: map[string]int{},
		updates:       map[string]int{},
		rebuilds:      map[string]int{},
	}
}

func (m *recordingMetrics) RecordStatusChange(result string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusChanges[result]++
}

func (m *recordingMetrics) RecordAggregateUpdate(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[scope]++
}

func (m *recordingMetrics) RecordRebuild(scope, result string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilds[scope+"/"+result]++
}

func (m *recordingMetrics) RecordCacheLookup(_ string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.cacheHits++
	}
}

type fixture struct {
	store     *testutil.Store
	metrics   *recordingMetrics
	cache     *DisplayCache
	updater   *Updater
	rebuilder *Rebuilder
	reader    *Reader
}

func newFixture(t *testing.T, opts RebuildOptions) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	rec := newRecordingMetrics()
	cache := NewDisplayCache(time.Minute)
	deps := Deps{
		Tx:       store.Tx,
		Words:    store.Words,
		Analyses: store.Analyses,
		Learners: store.Learners,
		Cache:    cache,
		Metrics:  rec,
		Logger:   testutil.DiscardLogger(),
	}
	return &fixture{
		store:     store,
		metrics:   rec,
		cache:     cache,
		updater:   NewUpdater(deps),
		rebuilder: NewRebuilder(deps, identity.NewStoreProvider(store.Learners, nil), opts),
		reader:    NewReader(deps),
	}
}

// changeStatus performs the canonical write and then the aggregate update, as the API does.
func (f *fixture) changeStatus(t *testing.T, wordID string, newLevel int) {
	t.Helper()
	ctx := context.Background()
	word, err := f.store.Words.GetByID(ctx, wordID)
	require.NoError(t, err)
	old, err := f.store.Words.UpdateStatus(ctx, wordID, entities.NumericStatus(newLevel))
	require.NoError(t, err)
	oldLevel, ok := old.Level()
	require.True(t, ok)
	require.NoError(t, f.updater.ApplyStatusChange(ctx, wordID, word.OwnerID, oldLevel, newLevel))
}

func counts(pairs map[int]int64) entities.StatusCounts {
	c := entities.NewStatusCounts()
	for level, n := range pairs {
		c[level] = n
	}
	return c
}

func TestRebuildLearnerAggregate_Scenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})

	for i, status := range []string{"1", "1", "4", "6", "6", "6"} {
		f.store.SeedWord(t, fmt.Sprintf("w%d", i), "learner-1", status)
	}
	// Not yet migrated and out of range values are ignored
	f.store.SeedWord(t, "legacy", "learner-1", "well_known")
	f.store.SeedWord(t, "broken", "learner-1", "9")

	got, err := f.rebuilder.RebuildLearnerAggregate(t.Context(), "learner-1")
	require.NoError(t, err)

	want := counts(map[int]int64{1: 2, 4: 1, 6: 3})
	assert.Equal(t, want, got)

	stored, err := f.store.Learners.GetAggregate(t.Context(), "learner-1")
	require.NoError(t, err)
	assert.Equal(t, want, stored)
	assert.Equal(t, 1, f.metrics.rebuilds["learner/success"])
}

func TestRebuildAnalysisAggregate_Scenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})

	ids := make([]string, 0, 6)
	for i, status := range []string{"1", "1", "4", "6", "6", "6"} {
		id := fmt.Sprintf("w%d", i)
		f.store.SeedWord(t, id, "learner-1", status)
		ids = append(ids, id)
	}
	f.store.SeedWord(t, "outside", "learner-1", "2")
	f.store.SeedAnalysis(t, "a1", "learner-1", ids...)

	got, err := f.rebuilder.RebuildAnalysisAggregate(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{1: 2, 4: 1, 6: 3}), got)
	assert.Equal(t, int64(len(ids)), got.Total())
}

func TestRebuildAnalysisAggregate_ChunkedEqualsUnchunked(t *testing.T) {
	t.Parallel()

	f := newFixture(t, RebuildOptions{ChunkSize: 10})
	unchunked := NewRebuilder(Deps{
		Words:    f.store.Words,
		Analyses: f.store.Analyses,
		Learners: f.store.Learners,
	}, nil, RebuildOptions{ChunkSize: 1000})

	const members = 37
	ids := make([]string, 0, members)
	statuses := make([]entities.StatusValue, 0, members)
	for i := range members {
		id := fmt.Sprintf("w%03d", i)
		status := entities.NumericStatus(i%entities.MaxStatus + 1)
		f.store.SeedWord(t, id, "learner-1", string(status))
		ids = append(ids, id)
		statuses = append(statuses, status)
	}
	f.store.SeedAnalysis(t, "big", "learner-1", ids...)

	chunked, err := f.rebuilder.RebuildAnalysisAggregate(t.Context(), "big")
	require.NoError(t, err)
	single, err := unchunked.RebuildAnalysisAggregate(t.Context(), "big")
	require.NoError(t, err)

	assert.Equal(t, single, chunked)
	assert.Equal(t, Tally(statuses), chunked)
	assert.Equal(t, int64(members), chunked.Total())
}

func TestRebuildAnalysisAggregate_MissingAnalysis(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})

	_, err := f.rebuilder.RebuildAnalysisAggregate(t.Context(), "nope")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, f.metrics.rebuilds["analysis/error"])
}

func TestApplyStatusChange_TransitionInvariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	f.store.SeedWord(t, "w1", "learner-1", "1")
	f.store.SeedWord(t, "w2", "learner-1", "3")
	f.store.SeedWord(t, "w3", "learner-1", "3")
	f.store.SeedAnalysis(t, "a1", "learner-1", "w1", "w2")
	f.store.SeedAnalysis(t, "a2", "learner-1", "w1", "w3")
	f.store.SeedAnalysis(t, "a3", "learner-1", "w2")

	_, err := f.rebuilder.RebuildLearnerAggregate(ctx, "learner-1")
	require.NoError(t, err)
	_, err = f.rebuilder.RebuildAllAnalyses(ctx, nil)
	require.NoError(t, err)

	f.changeStatus(t, "w1", 4)

	learner, err := f.store.Learners.GetAggregate(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{3: 2, 4: 1}), learner)
	assert.Equal(t, int64(3), learner.Total())

	a1, err := f.store.Analyses.GetAggregate(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{3: 1, 4: 1}), a1)

	a2, err := f.store.Analyses.GetAggregate(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{3: 1, 4: 1}), a2)

	// a3 does not contain w1 and stays untouched
	a3, err := f.store.Analyses.GetAggregate(ctx, "a3")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{3: 1}), a3)

	assert.Equal(t, 1, f.metrics.statusChanges["success"])
	assert.Equal(t, 1, f.metrics.updates["learner"])
	assert.Equal(t, 2, f.metrics.updates["analysis"])
}

func TestApplyStatusChange_InitializesMissingAggregates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	f.store.SeedWord(t, "w1", "learner-1", "2")
	f.store.SeedAnalysis(t, "a1", "learner-1", "w1")

	f.changeStatus(t, "w1", 5)

	learner, err := f.store.Learners.GetAggregate(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{5: 1}), learner, "old bucket is floored at zero")

	a1, err := f.store.Analyses.GetAggregate(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{5: 1}), a1)
}

func TestApplyStatusChange_NoopAndValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	require.NoError(t, f.updater.ApplyStatusChange(ctx, "w1", "learner-1", 3, 3))
	_, err := f.store.Learners.GetAggregate(ctx, "learner-1")
	require.ErrorIs(t, err, ErrNotComputed, "a no-op must not create an aggregate")
	assert.Equal(t, 1, f.metrics.statusChanges["noop"])

	for _, tc := range []struct{ from, to int }{{0, 1}, {1, 8}, {-1, 3}} {
		err := f.updater.ApplyStatusChange(ctx, "w1", "learner-1", tc.from, tc.to)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestApplyStatusChange_ConcurrentTransitionsKeepCounts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	const words = 8
	for i := range words {
		f.store.SeedWord(t, fmt.Sprintf("w%d", i), "learner-1", "1")
	}
	_, err := f.rebuilder.RebuildLearnerAggregate(ctx, "learner-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range words {
		wg.Go(func() {
			assert.NoError(t, f.updater.ApplyStatusChange(ctx, fmt.Sprintf("w%d", i), "learner-1", 1, 2))
		})
	}
	wg.Wait()

	learner, err := f.store.Learners.GetAggregate(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{2: words}), learner)
}

func TestRebuildAllAnalyses_ReportsProgress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{Concurrency: 3})

	const analyses = 7
	for i := range analyses {
		word := fmt.Sprintf("w%d", i)
		f.store.SeedWord(t, word, "learner-1", "6")
		f.store.SeedAnalysis(t, fmt.Sprintf("a%d", i), "learner-1", word)
	}

	var mu sync.Mutex
	var seen []int64
	var lastTotal int64
	processed, err := f.rebuilder.RebuildAllAnalyses(t.Context(), func(_ context.Context, processed, total int64) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, processed)
		lastTotal = total
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(analyses), processed)
	assert.Equal(t, int64(analyses), lastTotal)
	require.Len(t, seen, analyses+1)
	for i, p := range seen {
		assert.Equal(t, int64(i), p, "progress must be monotonic")
	}

	for i := range analyses {
		got, err := f.store.Analyses.GetAggregate(t.Context(), fmt.Sprintf("a%d", i))
		require.NoError(t, err)
		assert.Equal(t, int64(1), got[6])
	}
}

func TestRebuildAllAnalyses_StopsOnProgressError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{Concurrency: 1})

	for i := range 4 {
		f.store.SeedAnalysis(t, fmt.Sprintf("a%d", i), "learner-1")
	}

	stop := errors.NewStd("lease lost")
	_, err := f.rebuilder.RebuildAllAnalyses(t.Context(), func(_ context.Context, processed, _ int64) error {
		if processed == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
}

func TestRebuildAllLearners_FollowsProviderPages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{UserPageSize: 2, Concurrency: 2})
	ctx := t.Context()

	owners := []string{"alice", "bob", "carol", "dave", "erin"}
	for i, owner := range owners {
		for j := 0; j <= i; j++ {
			f.store.SeedWord(t, fmt.Sprintf("%s-%d", owner, j), owner, "3")
		}
	}

	var totals []int64
	processed, err := f.rebuilder.RebuildAllLearners(ctx, func(_ context.Context, _, total int64) error {
		totals = append(totals, total)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(owners)), processed)
	assert.Equal(t, int64(len(owners)), totals[len(totals)-1])
	assert.Equal(t, int64(2), totals[0], "total grows as pages arrive")

	for i, owner := range owners {
		got, err := f.store.Learners.GetAggregate(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), got.Total(), "sum must match the words of %s", owner)
		assert.Equal(t, int64(i+1), got[3])
	}
}

func TestRebuildAllLearners_RequiresProvider(t *testing.T) {
	t.Parallel()
	store := testutil.NewStore(t)
	r := NewRebuilder(Deps{Words: store.Words, Analyses: store.Analyses, Learners: store.Learners}, nil, RebuildOptions{})

	_, err := r.RebuildAllLearners(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestResetStructures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	f.store.SeedWord(t, "w1", "learner-1", "1")
	f.store.SeedAnalysis(t, "a1", "learner-1", "w1")
	_, err := f.rebuilder.RebuildAnalysisAggregate(ctx, "a1")
	require.NoError(t, err)
	_, err = f.rebuilder.RebuildLearnerAggregate(ctx, "learner-1")
	require.NoError(t, err)
	require.NoError(t, f.store.Learners.PutAggregate(ctx, "ghost", counts(map[int]int64{1: 4})))

	result, err := f.rebuilder.ResetStructures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ClearedAnalyses)
	assert.Equal(t, int64(1), result.DeletedLearners)

	_, err = f.store.Analyses.GetAggregate(ctx, "a1")
	require.ErrorIs(t, err, ErrNotComputed)
	_, err = f.store.Learners.GetAggregate(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotComputed)
	_, err = f.store.Learners.GetAggregate(ctx, "learner-1")
	require.NoError(t, err)
}

func TestReader_CachesAndInvalidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	f.store.SeedWord(t, "w1", "learner-1", "1")
	f.store.SeedAnalysis(t, "a1", "learner-1", "w1")

	_, err := f.reader.LearnerCounts(ctx, "learner-1")
	require.ErrorIs(t, err, ErrNotComputed)
	_, err = f.reader.AnalysisCounts(ctx, "a1")
	require.ErrorIs(t, err, ErrNotComputed)
	_, err = f.reader.AnalysisCounts(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = f.rebuilder.RebuildLearnerAggregate(ctx, "learner-1")
	require.NoError(t, err)

	first, err := f.reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first[1])

	_, err = f.reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.metrics.cacheHits)

	f.changeStatus(t, "w1", 7)

	after, err := f.reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{7: 1}), after, "update must invalidate the cached entry")

	analysis, err := f.reader.AnalysisCounts(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{7: 1}), analysis)
}

func TestReader_ReturnsCopies(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	require.NoError(t, f.store.Learners.PutAggregate(ctx, "learner-1", counts(map[int]int64{2: 3})))

	got, err := f.reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	got[2] = 100

	again, err := f.reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), again[2])
}

func TestChunkIDs(t *testing.T) {
	t.Parallel()

	ids := make([]string, 23)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%d", i)
	}

	chunks := chunkIDs(ids, 10)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 3)

	assert.Empty(t, chunkIDs(nil, 10))
	assert.Len(t, chunkIDs(ids, 0), 3, "non-positive size falls back to the default")
}

// invalidatingLearners drops the cached entry right after each aggregate
// load, as an updater committing between the load and the cache fill would.
type invalidatingLearners struct {
	repository.LearnerRepository
	cache *DisplayCache
}

func (l *invalidatingLearners) GetAggregate(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	counts, err := l.LearnerRepository.GetAggregate(ctx, ownerID)
	l.cache.InvalidateLearner(ownerID)
	return counts, err
}

func TestReader_DoesNotCacheLoadInvalidatedMidway(t *testing.T) {
	t.Parallel()
	f := newFixture(t, RebuildOptions{})
	ctx := t.Context()

	require.NoError(t, f.store.Learners.PutAggregate(ctx, "learner-1", counts(map[int]int64{2: 3})))

	reader := NewReader(Deps{
		Analyses: f.store.Analyses,
		Learners: &invalidatingLearners{LearnerRepository: f.store.Learners, cache: f.cache},
		Cache:    f.cache,
	})

	got, err := reader.LearnerCounts(ctx, "learner-1")
	require.NoError(t, err)
	assert.Equal(t, counts(map[int]int64{2: 3}), got)

	_, cached := f.cache.get(learnerKey("learner-1"))
	assert.False(t, cached, "a load that raced an invalidation must not be cached")
	assert.Zero(t, f.cache.ItemCount())
}

func TestDisplayCache_SetRespectsVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		between    func(c *DisplayCache)
		wantCached bool
	}{
		{"no write", func(*DisplayCache) {}, true},
		{"same key invalidated", func(c *DisplayCache) { c.InvalidateLearner("learner-1") }, false},
		{"other key invalidated", func(c *DisplayCache) { c.InvalidateLearner("learner-2") }, true},
		{"analysis with same id invalidated", func(c *DisplayCache) { c.InvalidateAnalysis("learner-1") }, true},
		{"flushed", func(c *DisplayCache) { c.Flush() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewDisplayCache(time.Minute)
			key := learnerKey("learner-1")

			version := c.version(key)
			tt.between(c)
			stored := c.set(key, version, counts(map[int]int64{1: 1}))
			assert.Equal(t, tt.wantCached, stored)

			_, found := c.get(key)
			assert.Equal(t, tt.wantCached, found)

			// a fresh version after the write is accepted again
			assert.True(t, c.set(key, c.version(key), counts(map[int]int64{1: 2})))
		})
	}
}

func TestDisplayCache_NilIsNoop(t *testing.T) {
	t.Parallel()
	var c *DisplayCache

	assert.False(t, c.set("k", c.version("k"), counts(map[int]int64{1: 1})))
	_, found := c.get("k")
	assert.False(t, found)
	c.InvalidateLearner("k")
	c.Flush()
	assert.Zero(t, c.ItemCount())
}

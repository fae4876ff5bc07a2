package aggregate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/identity"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// Default rebuild settings.
const (
	DefaultRebuildConcurrency = 4
	DefaultUserPageSize       = 1000
)

// ProgressFunc receives the running processed and total counts of a bulk
// rebuild. Calls are serialized. A returned error stops the rebuild.
type ProgressFunc func(ctx context.Context, processed, total int64) error

// RebuildOptions tunes the rebuilder.
type RebuildOptions struct {
	// ChunkSize bounds the ids of one membership count.
	ChunkSize int
	// Concurrency bounds the aggregates rebuilt at once.
	Concurrency int
	// UserPageSize is the page size requested from the identity provider.
	UserPageSize int
}

// CleanupResult reports what ResetStructures removed.
type CleanupResult struct {
	ClearedAnalyses int64
	DeletedLearners int64
}

// Rebuilder recomputes aggregates from the word records.
type Rebuilder struct {
	words    repository.WordRepository
	analyses repository.AnalysisRepository
	learners repository.LearnerRepository
	users    identity.Provider
	cache    *DisplayCache
	metrics  MetricsRecorder
	log      logger.Logger

	chunkSize    int
	concurrency  int
	userPageSize int
}

// NewRebuilder creates a Rebuilder. users is only needed by RebuildAllLearners.
func NewRebuilder(deps Deps, users identity.Provider, opts RebuildOptions) *Rebuilder {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultRebuildConcurrency
	}
	if opts.UserPageSize < 1 {
		opts.UserPageSize = DefaultUserPageSize
	}
	return &Rebuilder{
		words:        deps.Words,
		analyses:     deps.Analyses,
		learners:     deps.Learners,
		users:        users,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		log:          deps.moduleLogger("rebuilder"),
		chunkSize:    opts.ChunkSize,
		concurrency:  opts.Concurrency,
		userPageSize: opts.UserPageSize,
	}
}

// RebuildAnalysisAggregate clears the aggregate of analysisID and recomputes it
// by counting its members per status in chunks of at most ChunkSize ids.
func (r *Rebuilder) RebuildAnalysisAggregate(ctx context.Context, analysisID string) (entities.StatusCounts, error) {
	start := time.Now()
	counts, err := r.rebuildAnalysis(ctx, analysisID)
	r.recordRebuild(metrics.ScopeAnalysis, err, start)
	return counts, err
}

func (r *Rebuilder) rebuildAnalysis(ctx context.Context, analysisID string) (entities.StatusCounts, error) {
	if _, err := r.analyses.GetAggregate(ctx, analysisID); errors.Is(err, repository.ErrAnalysisNotFound) {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("analysis_id", analysisID).
			Build()
	} else if err != nil && !errors.Is(err, repository.ErrAggregateNotComputed) {
		return nil, storeError(err, "get_analysis_aggregate", "analysis_id", analysisID)
	}

	if err := r.analyses.ClearAggregate(ctx, analysisID); err != nil {
		return nil, storeError(err, "clear_analysis_aggregate", "analysis_id", analysisID)
	}
	r.cache.InvalidateAnalysis(analysisID)

	memberIDs, err := r.analyses.MemberWordIDs(ctx, analysisID)
	if err != nil {
		return nil, storeError(err, "list_analysis_members", "analysis_id", analysisID)
	}

	counts := entities.NewStatusCounts()
	chunks := chunkIDs(memberIDs, r.chunkSize)
	for level := entities.MinStatus; level <= entities.MaxStatus; level++ {
		status := entities.NumericStatus(level)
		for _, chunk := range chunks {
			n, err := r.words.CountByStatusIn(ctx, chunk, status)
			if err != nil {
				return nil, storeError(err, "count_members_by_status", "analysis_id", analysisID)
			}
			counts[level] += n
		}
	}

	if err := r.analyses.SetAggregate(ctx, analysisID, counts); err != nil {
		return nil, storeError(err, "set_analysis_aggregate", "analysis_id", analysisID)
	}
	r.cache.InvalidateAnalysis(analysisID)
	return counts, nil
}

// RebuildAllAnalyses rebuilds every analysis with bounded concurrency and
// returns how many were rebuilt. The first error stops the run; analyses
// already rebuilt keep their new aggregate.
func (r *Rebuilder) RebuildAllAnalyses(ctx context.Context, progress ProgressFunc) (int64, error) {
	ids, err := r.analyses.ListIDs(ctx)
	if err != nil {
		return 0, storeError(err, "list_analyses")
	}

	tracker := newProgressTracker(progress)
	if err := tracker.grow(ctx, int64(len(ids))); err != nil {
		return 0, err
	}

	err = r.forEachBounded(ctx, ids, func(ctx context.Context, id string) error {
		if _, err := r.RebuildAnalysisAggregate(ctx, id); err != nil {
			return err
		}
		return tracker.advance(ctx)
	})

	processed := tracker.processedCount()
	if r.log != nil {
		r.log.Info("analysis aggregate rebuild finished",
			logger.Int64("processed", processed),
			logger.Int("total", len(ids)),
			logger.Bool("success", err == nil))
	}
	return processed, err
}

// RebuildLearnerAggregate tallies the statuses of every word owned by ownerID
// and overwrites the learner aggregate. Values outside 1..7 are ignored.
func (r *Rebuilder) RebuildLearnerAggregate(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	start := time.Now()
	counts, err := r.rebuildLearner(ctx, ownerID)
	r.recordRebuild(metrics.ScopeLearner, err, start)
	return counts, err
}

func (r *Rebuilder) rebuildLearner(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	statuses, err := r.words.StatusesByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeError(err, "list_owner_statuses", "owner_id", ownerID)
	}

	counts := Tally(statuses)
	if err := r.learners.PutAggregate(ctx, ownerID, counts); err != nil {
		return nil, storeError(err, "put_learner_aggregate", "owner_id", ownerID)
	}
	r.cache.InvalidateLearner(ownerID)
	return counts, nil
}

// Tally counts statuses into the seven buckets, ignoring anything not numeric in range.
func Tally(statuses []entities.StatusValue) entities.StatusCounts {
	counts := entities.NewStatusCounts()
	for _, status := range statuses {
		if level, ok := status.Level(); ok {
			counts[level]++
		}
	}
	return counts
}

// RebuildAllLearners pages through the identity provider and rebuilds every
// user it returns. The total grows as pages arrive.
func (r *Rebuilder) RebuildAllLearners(ctx context.Context, progress ProgressFunc) (int64, error) {
	if r.users == nil {
		return 0, errors.Newf("no identity provider configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	tracker := newProgressTracker(progress)
	pageToken := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return tracker.processedCount(), cancelledError(err)
		}

		page, err := r.users.ListUsers(ctx, pageToken, r.userPageSize)
		if err != nil {
			return tracker.processedCount(), err
		}
		pages++

		if err := tracker.grow(ctx, int64(len(page.UserIDs))); err != nil {
			return tracker.processedCount(), err
		}

		err = r.forEachBounded(ctx, page.UserIDs, func(ctx context.Context, ownerID string) error {
			if _, err := r.RebuildLearnerAggregate(ctx, ownerID); err != nil {
				return err
			}
			return tracker.advance(ctx)
		})
		if err != nil {
			return tracker.processedCount(), err
		}

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == pageToken {
			return tracker.processedCount(), errors.Newf("identity provider repeated page token").
				Component(componentName).
				Category(errors.CategoryIdentity).
				Context("provider", r.users.Name()).
				Build()
		}
		pageToken = page.NextPageToken
	}

	if r.log != nil {
		r.log.Info("learner aggregate rebuild finished",
			logger.Int64("processed", tracker.processedCount()),
			logger.Int("pages", pages),
			logger.String("provider", r.users.Name()))
	}
	return tracker.processedCount(), nil
}

// ResetStructures clears every analysis aggregate and deletes the aggregates
// of learners that no longer own any word.
func (r *Rebuilder) ResetStructures(ctx context.Context) (CleanupResult, error) {
	cleared, err := r.analyses.ClearAllAggregates(ctx)
	if err != nil {
		return CleanupResult{}, storeError(err, "clear_all_analysis_aggregates")
	}
	deleted, err := r.learners.DeleteOrphanAggregates(ctx)
	if err != nil {
		return CleanupResult{ClearedAnalyses: cleared}, storeError(err, "delete_orphan_learner_aggregates")
	}
	r.cache.Flush()
	return CleanupResult{ClearedAnalyses: cleared, DeletedLearners: deleted}, nil
}

func (r *Rebuilder) forEachBounded(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return cancelledError(err)
	}
	return nil
}

func (r *Rebuilder) recordRebuild(scope string, err error, start time.Time) {
	if r.metrics == nil {
		return
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	r.metrics.RecordRebuild(scope, result, time.Since(start).Seconds())
}

func cancelledError(err error) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryCancellation).
		Build()
}

// progressTracker serializes progress callbacks from concurrent workers.
type progressTracker struct {
	mu        sync.Mutex
	fn        ProgressFunc
	processed int64
	total     int64
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{fn: fn}
}

func (p *progressTracker) grow(ctx context.Context, n int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += n
	return p.report(ctx)
}

func (p *progressTracker) advance(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	return p.report(ctx)
}

func (p *progressTracker) report(ctx context.Context) error {
	if p.fn == nil {
		return nil
	}
	return p.fn(ctx, p.processed, p.total)
}

func (p *progressTracker) processedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

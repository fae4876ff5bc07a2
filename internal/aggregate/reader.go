package aggregate

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// Reader serves stored aggregates for display. Reads take no lock and may
// observe an aggregate in the middle of a rebuild.
type Reader struct {
	analyses repository.AnalysisRepository
	learners repository.LearnerRepository
	cache    *DisplayCache
	metrics  MetricsRecorder
}

// NewReader creates a Reader.
func NewReader(deps Deps) *Reader {
	return &Reader{
		analyses: deps.Analyses,
		learners: deps.Learners,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
	}
}

// LearnerCounts returns the aggregate of ownerID, or ErrNotComputed.
func (r *Reader) LearnerCounts(ctx context.Context, ownerID string) (entities.StatusCounts, error) {
	key := learnerKey(ownerID)
	if counts, ok := r.cache.get(key); ok {
		r.recordLookup(metrics.ScopeLearner, true)
		return counts, nil
	}
	r.recordLookup(metrics.ScopeLearner, false)

	version := r.cache.version(key)
	counts, err := r.learners.GetAggregate(ctx, ownerID)
	if errors.Is(err, repository.ErrAggregateNotComputed) {
		return nil, ErrNotComputed
	}
	if err != nil {
		return nil, storeError(err, "read_learner_aggregate", "owner_id", ownerID)
	}

	counts = counts.Normalize()
	r.cache.set(key, version, counts)
	return counts, nil
}

// AnalysisCounts returns the aggregate of analysisID, or ErrNotComputed.
// A missing analysis is a not-found error.
func (r *Reader) AnalysisCounts(ctx context.Context, analysisID string) (entities.StatusCounts, error) {
	key := analysisKey(analysisID)
	if counts, ok := r.cache.get(key); ok {
		r.recordLookup(metrics.ScopeAnalysis, true)
		return counts, nil
	}
	r.recordLookup(metrics.ScopeAnalysis, false)

	version := r.cache.version(key)
	counts, err := r.analyses.GetAggregate(ctx, analysisID)
	switch {
	case errors.Is(err, repository.ErrAggregateNotComputed):
		return nil, ErrNotComputed
	case errors.Is(err, repository.ErrAnalysisNotFound):
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("analysis_id", analysisID).
			Build()
	case err != nil:
		return nil, storeError(err, "read_analysis_aggregate", "analysis_id", analysisID)
	}

	counts = counts.Normalize()
	r.cache.set(key, version, counts)
	return counts, nil
}

func (r *Reader) recordLookup(scope string, hit bool) {
	if r.metrics != nil {
		r.metrics.RecordCacheLookup(scope, hit)
	}
}

package aggregate

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// Updater applies single status transitions to the stored aggregates.
//
// The learner aggregate and each analysis aggregate are updated in separate
// transactions. A failure part way leaves the remaining analysis aggregates
// stale until the next rebuild.
type Updater struct {
	tx       *datastore.Transactor
	analyses repository.AnalysisRepository
	learners repository.LearnerRepository
	cache    *DisplayCache
	metrics  MetricsRecorder
	log      logger.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(deps Deps) *Updater {
	return &Updater{
		tx:       deps.Tx,
		analyses: deps.Analyses,
		learners: deps.Learners,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		log:      deps.moduleLogger("updater"),
	}
}

// ApplyStatusChange moves one word from oldLevel to newLevel in the aggregate
// of its owner and in the aggregate of every analysis containing it.
// Aggregates that were never computed start from all zero.
func (u *Updater) ApplyStatusChange(ctx context.Context, wordID, ownerID string, oldLevel, newLevel int) error {
	if !entities.ValidLevel(oldLevel) {
		return levelError("old_status", oldLevel)
	}
	if !entities.ValidLevel(newLevel) {
		return levelError("new_status", newLevel)
	}
	if oldLevel == newLevel {
		u.record(metrics.ResultNoop, 0)
		return nil
	}

	start := time.Now()
	err := u.apply(ctx, wordID, ownerID, oldLevel, newLevel)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	u.record(result, time.Since(start).Seconds())
	return err
}

func (u *Updater) apply(ctx context.Context, wordID, ownerID string, oldLevel, newLevel int) error {
	if err := u.updateLearner(ctx, ownerID, oldLevel, newLevel); err != nil {
		return err
	}

	analysisIDs, err := u.analyses.AnalysisIDsForWord(ctx, wordID)
	if err != nil {
		return storeError(err, "lookup_word_analyses", "word_id", wordID)
	}

	var errs []error
	for _, analysisID := range analysisIDs {
		if err := u.updateAnalysis(ctx, analysisID, oldLevel, newLevel); err != nil {
			if u.log != nil {
				u.log.Warn("analysis aggregate left stale",
					logger.String("analysis_id", analysisID),
					logger.String("word_id", wordID),
					logger.Error(err))
			}
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (u *Updater) updateLearner(ctx context.Context, ownerID string, oldLevel, newLevel int) error {
	err := u.tx.Do(ctx, "update_learner_aggregate", func(tx *gorm.DB) error {
		repo := u.learners.WithTx(tx)
		counts, err := repo.GetAggregateForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		counts = counts.Normalize()
		counts.Transition(oldLevel, newLevel)
		return repo.PutAggregate(ctx, ownerID, counts)
	})
	if err != nil {
		return storeError(err, "update_learner_aggregate", "owner_id", ownerID)
	}

	u.cache.InvalidateLearner(ownerID)
	if u.metrics != nil {
		u.metrics.RecordAggregateUpdate(metrics.ScopeLearner)
	}
	return nil
}

func (u *Updater) updateAnalysis(ctx context.Context, analysisID string, oldLevel, newLevel int) error {
	err := u.tx.Do(ctx, "update_analysis_aggregate", func(tx *gorm.DB) error {
		repo := u.analyses.WithTx(tx)
		counts, err := repo.GetAggregateForUpdate(ctx, analysisID)
		if err != nil {
			return err
		}
		counts = counts.Normalize()
		counts.Transition(oldLevel, newLevel)
		return repo.SetAggregate(ctx, analysisID, counts)
	})
	if errors.Is(err, repository.ErrAnalysisNotFound) {
		// membership row outlived its analysis
		return nil
	}
	if err != nil {
		return storeError(err, "update_analysis_aggregate", "analysis_id", analysisID)
	}

	u.cache.InvalidateAnalysis(analysisID)
	if u.metrics != nil {
		u.metrics.RecordAggregateUpdate(metrics.ScopeAnalysis)
	}
	return nil
}

func (u *Updater) record(result string, seconds float64) {
	if u.metrics != nil {
		u.metrics.RecordStatusChange(result, seconds)
	}
}

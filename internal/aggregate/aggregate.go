// Package aggregate maintains the per-learner and per-analysis status count
// aggregates. The Updater applies single status transitions, the Rebuilder
// recomputes aggregates from the word records and the Reader serves them for
// display through a short-lived cache.
package aggregate

import (
	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

const componentName = "aggregate"

// ErrNotComputed indicates the requested aggregate has not been computed yet.
var ErrNotComputed = repository.ErrAggregateNotComputed

// MetricsRecorder receives aggregate maintenance measurements.
// It is satisfied by *metrics.AggregateMetrics.
type MetricsRecorder interface {
	RecordStatusChange(result string, seconds float64)
	RecordAggregateUpdate(scope string)
	RecordRebuild(scope, result string, seconds float64)
	RecordCacheLookup(scope string, hit bool)
}

// Deps holds the collaborators shared by the updater, rebuilder and reader.
type Deps struct {
	Tx       *datastore.Transactor
	Words    repository.WordRepository
	Analyses repository.AnalysisRepository
	Learners repository.LearnerRepository
	Cache    *DisplayCache
	Metrics  MetricsRecorder
	Logger   logger.Logger
}

func (d Deps) moduleLogger(name string) logger.Logger {
	if d.Logger == nil {
		return nil
	}
	return d.Logger.Module(name)
}

// storeError categorizes an error from the record store. Errors that already
// carry a store or cancellation category are passed through.
func storeError(err error, operation string, pairs ...string) error {
	if errors.IsCategory(err, errors.CategoryDatabase) || errors.IsCategory(err, errors.CategoryCancellation) {
		return err
	}
	builder := errors.New(err).
		Component(componentName).
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	for i := 0; i+1 < len(pairs); i += 2 {
		builder = builder.Context(pairs[i], pairs[i+1])
	}
	return builder.Build()
}

func levelError(field string, level int) error {
	return errors.Newf("status %d is outside %d..%d", level, entities.MinStatus, entities.MaxStatus).
		Component(componentName).
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", level).
		Build()
}

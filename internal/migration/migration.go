// Package migration runs the long-running jobs of vocabstats: the legacy
// status migration, the multi-step migration and the bulk rebuilds. Jobs run
// under a per-kind lease held in the job progress table.
package migration

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/errors"
)

const componentName = "migration"

// CancelledMessage is written as the error of a job stopped through its cancellation token.
const CancelledMessage = "cancelled"

// ErrJobAlreadyRunning is matched with errors.Is when a start is refused because the lease is held.
var ErrJobAlreadyRunning = datastore.ErrLeaseHeld

// Tracker writes the progress document of the running job.
// *datastore.Lease satisfies it.
type Tracker interface {
	Update(ctx context.Context, fields map[string]any) error
}

// JobRecorder receives job measurements. It is satisfied by *metrics.JobMetrics.
type JobRecorder interface {
	RecordJobStarted(kind string)
	RecordJobFinished(kind, result string, seconds float64)
	RecordLeaseConflict(kind string)
	RecordMigrationRecords(outcome string, n int)
	RecordMigrationBatch()
}

func cancelledError(cause error) error {
	return errors.New(cause).
		Component(componentName).
		Category(errors.CategoryCancellation).
		Build()
}

func trackerError(err error, operation string) error {
	if errors.IsCategory(err, errors.CategoryState) || errors.IsCategory(err, errors.CategoryDatabase) {
		return err
	}
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryJob).
		Context("operation", operation).
		Build()
}

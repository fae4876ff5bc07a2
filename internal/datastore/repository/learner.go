package repository

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"gorm.io/gorm"
)

// LearnerRepository provides access to the learners and learner_aggregates tables.
type LearnerRepository interface {
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) LearnerRepository

	// Ensure creates the learner if it does not exist.
	Ensure(ctx context.Context, id, displayName string) error

	// ListIDsAfter returns up to limit learner ids ordered by id, starting after startAfter.
	ListIDsAfter(ctx context.Context, startAfter string, limit int) ([]string, error)

	// GetAggregate returns the stored aggregate of ownerID.
	// Returns ErrAggregateNotComputed if there is none.
	GetAggregate(ctx context.Context, ownerID string) (entities.StatusCounts, error)

	// GetAggregateForUpdate reads the aggregate under a row lock where the store supports one.
	// A nil result with a nil error means no aggregate row exists.
	GetAggregateForUpdate(ctx context.Context, ownerID string) (entities.StatusCounts, error)

	// PutAggregate inserts or overwrites the aggregate of ownerID.
	PutAggregate(ctx context.Context, ownerID string, counts entities.StatusCounts) error

	// DeleteOrphanAggregates removes aggregates of owners without any word.
	DeleteOrphanAggregates(ctx context.Context) (int64, error)
}

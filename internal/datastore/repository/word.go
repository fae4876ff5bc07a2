package repository

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"gorm.io/gorm"
)

// WordRepository provides access to the words table.
type WordRepository interface {
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) WordRepository

	// GetByID retrieves a word by its ID.
	// Returns ErrWordNotFound if not found.
	GetByID(ctx context.Context, id string) (*entities.Word, error)

	// Upsert inserts the word or overwrites owner, text and status of an existing one.
	Upsert(ctx context.Context, word *entities.Word) error

	// UpdateStatus writes a new status and returns the previous one.
	// Returns ErrWordNotFound if not found.
	UpdateStatus(ctx context.Context, id string, status entities.StatusValue) (entities.StatusValue, error)

	// MigrateStatus writes the numeric status and records the legacy tag in old_status.
	MigrateStatus(ctx context.Context, id string, status entities.StatusValue, legacyTag string) error

	// Count returns the total number of words.
	Count(ctx context.Context) (int64, error)

	// ListAfter returns up to limit words ordered by id, starting after startAfter.
	// An empty startAfter starts from the beginning.
	ListAfter(ctx context.Context, startAfter string, limit int) ([]entities.Word, error)

	// StatusesByOwner returns the status of every word owned by ownerID.
	StatusesByOwner(ctx context.Context, ownerID string) ([]entities.StatusValue, error)

	// CountByStatusIn counts words among ids holding status.
	// Callers bound len(ids) to keep the IN list small.
	CountByStatusIn(ctx context.Context, ids []string, status entities.StatusValue) (int64, error)
}

package repository

import (
	"context"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"gorm.io/gorm"
)

// AnalysisRepository provides access to the analyses and analysis_members tables.
// The aggregate of an analysis is its status_counts column; NULL means not computed.
type AnalysisRepository interface {
	// WithTx returns a repository bound to tx.
	WithTx(tx *gorm.DB) AnalysisRepository

	// Ensure creates the analysis if it does not exist. Existing rows are untouched.
	Ensure(ctx context.Context, id, ownerID, title string) error

	// ListIDs returns every analysis id in id order.
	ListIDs(ctx context.Context) ([]string, error)

	// AddMembers links wordIDs to the analysis. Existing links are kept.
	AddMembers(ctx context.Context, analysisID string, wordIDs []string) error

	// MemberWordIDs returns the ids of the words in the analysis.
	MemberWordIDs(ctx context.Context, analysisID string) ([]string, error)

	// AnalysisIDsForWord returns the analyses containing wordID through the word_id index.
	AnalysisIDsForWord(ctx context.Context, wordID string) ([]string, error)

	// GetAggregate returns the stored aggregate.
	// Returns ErrAnalysisNotFound or ErrAggregateNotComputed.
	GetAggregate(ctx context.Context, analysisID string) (entities.StatusCounts, error)

	// GetAggregateForUpdate reads the aggregate under a row lock where the store supports one.
	// A nil result with a nil error means the aggregate is not computed.
	// Returns ErrAnalysisNotFound if the analysis does not exist.
	GetAggregateForUpdate(ctx context.Context, analysisID string) (entities.StatusCounts, error)

	// SetAggregate writes counts as the aggregate.
	SetAggregate(ctx context.Context, analysisID string, counts entities.StatusCounts) error

	// ClearAggregate sets the aggregate to NULL.
	ClearAggregate(ctx context.Context, analysisID string) error

	// ClearAllAggregates sets every aggregate to NULL and returns the number of analyses touched.
	ClearAllAggregates(ctx context.Context) (int64, error)
}

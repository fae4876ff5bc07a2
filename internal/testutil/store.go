package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/logger"
)

// Store bundles an initialized SQLite store with its repositories.
type Store struct {
	Manager  *datastore.SQLiteManager
	DB       *gorm.DB
	Tx       *datastore.Transactor
	Progress *datastore.ProgressManager
	Words    repository.WordRepository
	Analyses repository.AnalysisRepository
	Learners repository.LearnerRepository
}

// NewStore creates an initialized SQLite store in t.TempDir(). It is closed on cleanup.
func NewStore(t *testing.T) *Store {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(datastore.Config{Path: filepath.Join(t.TempDir(), "vocabstats.db")})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })

	db := mgr.DB()
	return &Store{
		Manager:  mgr,
		DB:       db,
		Tx:       datastore.NewTransactor(db, datastore.TxOptions{MaxRetries: 5, BaseDelay: time.Millisecond}),
		Progress: datastore.NewProgressManager(db, 2*time.Minute),
		Words:    repository.NewWordRepository(db),
		Analyses: repository.NewAnalysisRepository(db),
		Learners: repository.NewLearnerRepository(db),
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// SeedWord inserts a word with a verbatim status value (numeric or legacy tag).
func (s *Store) SeedWord(t *testing.T, id, ownerID, status string) {
	t.Helper()
	require.NoError(t, s.Learners.Ensure(context.Background(), ownerID, ""))
	require.NoError(t, s.Words.Upsert(context.Background(), &entities.Word{
		ID:      id,
		OwnerID: ownerID,
		Text:    id,
		Status:  entities.StatusValue(status),
	}))
}

// SeedAnalysis creates an analysis containing wordIDs. Its aggregate starts as not computed.
func (s *Store) SeedAnalysis(t *testing.T, id, ownerID string, wordIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Analyses.Ensure(ctx, id, ownerID, id))
	require.NoError(t, s.Analyses.AddMembers(ctx, id, wordIDs))
}

// WordStatus returns the stored status and audit tag of a word.
func (s *Store) WordStatus(t *testing.T, id string) (status string, oldStatus *string) {
	t.Helper()
	word, err := s.Words.GetByID(context.Background(), id)
	require.NoError(t, err)
	return string(word.Status), word.OldStatus
}

// Package repository provides repository interfaces and gorm implementations
// for the vocabstats record store.
package repository

import "github.com/lexitally/vocabstats/internal/errors"

// Sentinel errors for repository operations.
// Callers match them with errors.Is instead of inspecting gorm errors.
var (
	// ErrWordNotFound indicates the requested word does not exist.
	ErrWordNotFound = errors.NewStd("word not found")

	// ErrAnalysisNotFound indicates the requested analysis does not exist.
	ErrAnalysisNotFound = errors.NewStd("analysis not found")

	// ErrAggregateNotComputed indicates the aggregate row or column is absent.
	ErrAggregateNotComputed = errors.NewStd("aggregate not computed")
)

// maxBatchInsert bounds rows per INSERT statement.
const maxBatchInsert = 500

// Package metrics provides constants used across metric definitions.
package metrics

// Label values shared by the recorders.
const (
	// ResultSuccess marks an operation that completed.
	ResultSuccess = "success"
	// ResultError marks an operation that failed.
	ResultError = "error"
	// ResultNoop marks a status change that did not move any bucket.
	ResultNoop = "noop"
	// ResultCancelled marks a job stopped through its cancellation token.
	ResultCancelled = "cancelled"

	// ScopeLearner labels learner aggregate operations.
	ScopeLearner = "learner"
	// ScopeAnalysis labels analysis aggregate operations.
	ScopeAnalysis = "analysis"

	// OutcomeMigrated labels records rewritten by the legacy migration.
	OutcomeMigrated = "migrated"
	// OutcomeSkipped labels records that were already numeric.
	OutcomeSkipped = "skipped"
	// OutcomeDefaulted labels unknown legacy tags mapped to the default level.
	OutcomeDefaulted = "defaulted"
)

// Histogram bucket parameters.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~16s range).
	BucketStart1ms = 0.001
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

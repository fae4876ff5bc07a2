package datastore

import (
	"fmt"

	"github.com/lexitally/vocabstats/internal/errors"
)

// Sentinel errors for lease handling. Callers match them with errors.Is.
var (
	// ErrLeaseHeld indicates another runner holds a non-stale lease for the job kind.
	ErrLeaseHeld = errors.NewStd("job is already running")

	// ErrLeaseLost indicates the lease was taken over or released while a job was still writing.
	ErrLeaseLost = errors.NewStd("job lease no longer held")
)

// dbError creates a properly categorized database error with context
func dbError(err error, operation, priority string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	if priority != "" {
		builder = builder.Priority(priority)
	}
	return withPairs(builder, context).Build()
}

// validationError creates a validation error for bad store configuration or input
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", fmt.Sprintf("%v", value)).
		Build()
}

// conflictError creates a conflict error for lease contention
func conflictError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryConflict).
		Priority(errors.PriorityLow).
		Context("operation", operation)
	return withPairs(builder, context).Build()
}

// stateError creates a state management error for lost leases
func stateError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryState).
		Context("operation", operation)
	return withPairs(builder, context).Build()
}

func withPairs(builder *errors.ErrorBuilder, context []any) *errors.ErrorBuilder {
	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder
}

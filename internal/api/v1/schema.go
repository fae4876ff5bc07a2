package api

import (
	"github.com/invopop/jsonschema"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// Schemas returns the JSON Schema of the progress document and of every
// response body, keyed by name.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return map[string]*jsonschema.Schema{
		"job_progress":       reflector.Reflect(&entities.JobProgress{}),
		"start_response":     reflector.Reflect(&StartResponse{}),
		"rebuild_response":   reflector.Reflect(&RebuildResponse{}),
		"cancel_response":    reflector.Reflect(&CancelResponse{}),
		"learner_aggregate":  reflector.Reflect(&LearnerAggregateResponse{}),
		"analysis_aggregate": reflector.Reflect(&AnalysisAggregateResponse{}),
		"status_change":      reflector.Reflect(&StatusChangeResponse{}),
		"error":              reflector.Reflect(&ErrorResponse{}),
	}
}

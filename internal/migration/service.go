package migration

import (
	"context"

	"github.com/lexitally/vocabstats/internal/aggregate"
	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
)

// Service binds every job kind to its body and runs it through the Runner.
// It is the entry point of the HTTP handlers, the CLI and the scheduler.
type Service struct {
	runner       *Runner
	legacy       *LegacyStatusJob
	rebuilder    *aggregate.Rebuilder
	orchestrator *Orchestrator
}

// NewService creates a Service.
func NewService(runner *Runner, legacy *LegacyStatusJob, rebuilder *aggregate.Rebuilder, orchestrator *Orchestrator) *Service {
	return &Service{
		runner:       runner,
		legacy:       legacy,
		rebuilder:    rebuilder,
		orchestrator: orchestrator,
	}
}

// Job returns the body of kind.
func (s *Service) Job(kind entities.JobKind) (JobFunc, error) {
	switch kind {
	case entities.JobLegacyStatusMigration:
		return s.legacyJob, nil
	case entities.JobMultiStepMigration:
		return s.multiStepJob, nil
	case entities.JobAnalysisAggregateRebuild:
		return s.analysisRebuildJob, nil
	case entities.JobLearnerAggregateRebuild:
		return s.learnerRebuildJob, nil
	}
	return nil, errors.Newf("unknown job kind %q", kind).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()
}

// Start runs kind detached.
func (s *Service) Start(kind entities.JobKind) (bool, error) {
	fn, err := s.Job(kind)
	if err != nil {
		return false, err
	}
	return s.runner.Start(kind, fn)
}

// RunSync runs kind on the caller's goroutine and returns the final progress document.
func (s *Service) RunSync(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error) {
	fn, err := s.Job(kind)
	if err != nil {
		return nil, err
	}
	return s.runner.RunSync(ctx, kind, fn)
}

// Cancel cancels the running job of kind.
func (s *Service) Cancel(kind entities.JobKind) bool {
	return s.runner.Cancel(kind)
}

// Progress returns the progress document of kind.
func (s *Service) Progress(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error) {
	return s.runner.Progress(ctx, kind)
}

// Wait blocks until every detached job has returned.
func (s *Service) Wait() {
	s.runner.Wait()
}

func (s *Service) legacyJob(ctx context.Context, lease *datastore.Lease) (map[string]any, error) {
	result, err := s.legacy.Run(ctx, TrackerReporter(lease))
	if err != nil {
		return nil, err
	}
	fields := result.Fields()
	delete(fields, "status")
	delete(fields, "error")
	return fields, nil
}

func (s *Service) multiStepJob(ctx context.Context, lease *datastore.Lease) (map[string]any, error) {
	return s.orchestrator.Run(ctx, lease)
}

func (s *Service) analysisRebuildJob(ctx context.Context, lease *datastore.Lease) (map[string]any, error) {
	processed, err := s.rebuilder.RebuildAllAnalyses(ctx, leaseProgress(lease))
	if err != nil {
		return nil, err
	}
	return map[string]any{"processed": processed}, nil
}

func (s *Service) learnerRebuildJob(ctx context.Context, lease *datastore.Lease) (map[string]any, error) {
	processed, err := s.rebuilder.RebuildAllLearners(ctx, leaseProgress(lease))
	if err != nil {
		return nil, err
	}
	return map[string]any{"processed": processed}, nil
}

func leaseProgress(tracker Tracker) aggregate.ProgressFunc {
	return func(ctx context.Context, processed, total int64) error {
		return tracker.Update(ctx, map[string]any{"processed": processed, "total": total})
	}
}

package migration

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/lexitally/vocabstats/internal/aggregate"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// Names of the default migration steps, in execution order.
const (
	StepCleanUpOldStructure      = "clean-up-old-structure"
	StepMigrateLegacyStatuses    = "migrate-legacy-statuses"
	StepRebuildAnalysisAggregate = "rebuild-analysis-aggregates"
	StepRebuildLearnerAggregate  = "rebuild-learner-aggregates"
)

// StepFunc executes one step. report updates the processed and total
// counters of the step's entry in the progress document.
type StepFunc func(ctx context.Context, report aggregate.ProgressFunc) error

// Step is one named unit of a multi-step migration.
type Step struct {
	Name string
	Run  StepFunc
}

// Orchestrator runs a fixed list of steps in order against one shared
// progress document. The first failing step stops the run and later steps
// stay pending.
type Orchestrator struct {
	steps []Step
	log   logger.Logger
}

// NewOrchestrator creates an orchestrator over steps.
func NewOrchestrator(steps []Step, log logger.Logger) *Orchestrator {
	if log != nil {
		log = log.Module("orchestrator")
	}
	return &Orchestrator{steps: steps, log: log}
}

// DefaultSteps returns the standard migration: clean up, migrate legacy
// statuses, rebuild analysis aggregates, rebuild learner aggregates.
func DefaultSteps(rebuilder *aggregate.Rebuilder, legacy *LegacyStatusJob) []Step {
	return []Step{
		{
			Name: StepCleanUpOldStructure,
			Run: func(ctx context.Context, report aggregate.ProgressFunc) error {
				result, err := rebuilder.ResetStructures(ctx)
				if err != nil {
					return err
				}
				n := result.ClearedAnalyses + result.DeletedLearners
				return report(ctx, n, n)
			},
		},
		{
			Name: StepMigrateLegacyStatuses,
			Run: func(ctx context.Context, report aggregate.ProgressFunc) error {
				_, err := legacy.Run(ctx, func(ctx context.Context, p LegacyProgress) error {
					return report(ctx, p.Processed, p.Total)
				})
				return err
			},
		},
		{
			Name: StepRebuildAnalysisAggregate,
			Run: func(ctx context.Context, report aggregate.ProgressFunc) error {
				_, err := rebuilder.RebuildAllAnalyses(ctx, report)
				return err
			},
		},
		{
			Name: StepRebuildLearnerAggregate,
			Run: func(ctx context.Context, report aggregate.ProgressFunc) error {
				_, err := rebuilder.RebuildAllLearners(ctx, report)
				return err
			},
		},
	}
}

// StepNames returns the step names in order.
func (o *Orchestrator) StepNames() []string {
	names := make([]string, len(o.steps))
	for i, step := range o.steps {
		names[i] = step.Name
	}
	return names
}

// Run executes every step and returns the fields to write with the completed status.
func (o *Orchestrator) Run(ctx context.Context, tracker Tracker) (map[string]any, error) {
	doc := newStepDocument(o.StepNames(), tracker)
	if err := doc.write(ctx, nil); err != nil {
		return nil, trackerError(err, "write_pending_steps")
	}

	for i, step := range o.steps {
		if err := ctx.Err(); err != nil {
			return nil, cancelledError(err)
		}

		if err := doc.setStatus(ctx, i, entities.StepRunning); err != nil {
			return nil, trackerError(err, "start_step")
		}
		if o.log != nil {
			o.log.Info("migration step started",
				logger.String("step", step.Name),
				logger.Int("index", i+1),
				logger.Int("steps", len(o.steps)))
		}

		err := step.Run(ctx, func(ctx context.Context, processed, total int64) error {
			return doc.setCounts(ctx, i, processed, total)
		})
		if err != nil {
			if markErr := doc.setStatus(context.WithoutCancel(ctx), i, entities.StepError); markErr != nil && o.log != nil {
				o.log.Warn("failed to mark step as failed",
					logger.String("step", step.Name),
					logger.Error(markErr))
			}
			if errors.IsCategory(err, errors.CategoryCancellation) {
				return nil, err
			}
			return nil, errors.New(fmt.Errorf("step %s failed: %w", step.Name, err)).
				Component(componentName).
				Category(errors.CategoryMigration).
				Context("step", step.Name).
				Build()
		}

		if err := doc.setStatus(ctx, i, entities.StepCompleted); err != nil {
			return nil, trackerError(err, "complete_step")
		}
	}

	return doc.completedFields(), nil
}

// stepDocument keeps the step list of the shared progress document and
// writes it through the tracker. Step reporters may run concurrently.
type stepDocument struct {
	mu      sync.Mutex
	steps   entities.StepList
	current string
	done    int64
	tracker Tracker
}

func newStepDocument(names []string, tracker Tracker) *stepDocument {
	steps := make(entities.StepList, len(names))
	for i, name := range names {
		steps[i] = entities.StepProgress{Name: name, Status: entities.StepPending}
	}
	return &stepDocument{steps: steps, tracker: tracker}
}

func (d *stepDocument) setStatus(ctx context.Context, index int, status entities.StepStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[index].Status = status
	extra := map[string]any{}
	if status == entities.StepRunning {
		d.current = d.steps[index].Name
		extra["current_step"] = d.current
	}
	if status == entities.StepCompleted {
		d.done++
	}
	return d.writeLocked(ctx, extra)
}

func (d *stepDocument) setCounts(ctx context.Context, index int, processed, total int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.steps[index].Processed = processed
	d.steps[index].Total = total
	return d.writeLocked(ctx, nil)
}

func (d *stepDocument) write(ctx context.Context, extra map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(ctx, extra)
}

func (d *stepDocument) writeLocked(ctx context.Context, extra map[string]any) error {
	if d.tracker == nil {
		return nil
	}
	fields := map[string]any{
		"steps":     append(entities.StepList(nil), d.steps...),
		"processed": d.done,
		"total":     int64(len(d.steps)),
	}
	maps.Copy(fields, extra)
	return d.tracker.Update(ctx, fields)
}

func (d *stepDocument) completedFields() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{
		"steps":        append(entities.StepList(nil), d.steps...),
		"processed":    d.done,
		"total":        int64(len(d.steps)),
		"current_step": d.current,
	}
}

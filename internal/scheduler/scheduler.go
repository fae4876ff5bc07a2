// Package scheduler runs the periodic reconciliation rebuilds that bound the
// staleness of incrementally maintained aggregates.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// ReconcileTag tags the reconciliation job in the gocron scheduler.
const ReconcileTag = "reconcile-aggregates"

// ReconcileKinds are started in order on every run.
var ReconcileKinds = []entities.JobKind{
	entities.JobAnalysisAggregateRebuild,
	entities.JobLearnerAggregateRebuild,
}

// JobStarter starts a job detached. It is satisfied by *migration.Service.
type JobStarter interface {
	Start(kind entities.JobKind) (bool, error)
}

// Scheduler manages the reconciliation schedule.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      JobStarter
	log       logger.Logger
}

// New creates a scheduler that starts the rebuilds on the cron expression cfg.Cron in UTC.
func New(cfg conf.SchedulerSettings, jobs JobStarter, log logger.Logger) (*Scheduler, error) {
	expr := cfg.Cron
	if expr == "" {
		expr = conf.DefaultReconcileCron
	}

	s := &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		log:       log.Module("scheduler"),
	}
	s.scheduler.SingletonModeAll()

	if _, err := s.scheduler.Cron(expr).Tag(ReconcileTag).Do(s.reconcile); err != nil {
		return nil, errors.New(err).
			Component("scheduler").
			Category(errors.CategoryConfiguration).
			Context("cron", expr).
			Build()
	}
	return s, nil
}

// Start begins running the schedule in a non-blocking manner.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
	if next := s.NextRun(); !next.IsZero() {
		s.log.Info("reconciliation scheduled", logger.Time("next_run", next))
	}
}

// Stop terminates the schedule. Rebuilds that already started keep running
// under the job runner.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// RunNow triggers a reconciliation outside the schedule. The scheduler must be started.
func (s *Scheduler) RunNow() error {
	return s.scheduler.RunByTag(ReconcileTag)
}

// NextRun returns the next scheduled reconciliation, or the zero time when none is scheduled.
func (s *Scheduler) NextRun() time.Time {
	jobs, err := s.scheduler.FindJobsByTag(ReconcileTag)
	if err != nil || len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].NextRun()
}

func (s *Scheduler) reconcile() {
	for _, kind := range ReconcileKinds {
		started, err := s.jobs.Start(kind)
		switch {
		case datastore.IsLeaseConflict(err):
			s.log.Info("reconciliation skipped, job already running", logger.String("kind", string(kind)))
		case err != nil:
			s.log.Error("failed to start reconciliation", logger.String("kind", string(kind)), logger.Error(err))
		case started:
			s.log.Info("reconciliation started", logger.String("kind", string(kind)))
		}
	}
}

package migration

import (
	"context"
	"sync"
	"time"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// JobFunc is the body of a job. It writes progress through lease and returns
// the fields to store with the completed status.
type JobFunc func(ctx context.Context, lease *datastore.Lease) (map[string]any, error)

// Notifier is told when a detached job reaches a terminal state.
type Notifier interface {
	JobFinished(ctx context.Context, progress *entities.JobProgress)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// HeartbeatInterval is how often a running job refreshes its lease.
	// Zero derives it from the lease TTL of the progress manager.
	HeartbeatInterval time.Duration
	Recorder          JobRecorder
	Notifier          Notifier
	Logger            logger.Logger
}

// Runner starts jobs under the lease of their kind. Detached jobs run on a
// context derived from the runner's base context, so cancelling the base
// stops every job.
type Runner struct {
	base      context.Context
	progress  *datastore.ProgressManager
	heartbeat time.Duration
	recorder  JobRecorder
	notifier  Notifier
	log       logger.Logger

	mu      sync.Mutex
	running map[entities.JobKind]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a runner whose detached jobs derive from base.
func NewRunner(base context.Context, progress *datastore.ProgressManager, leaseTTL time.Duration, opts RunnerOptions) *Runner {
	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = leaseTTL / 3
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	var log logger.Logger
	if opts.Logger != nil {
		log = opts.Logger.Module("runner")
	}
	return &Runner{
		base:      base,
		progress:  progress,
		heartbeat: heartbeat,
		recorder:  opts.Recorder,
		notifier:  opts.Notifier,
		log:       log,
		running:   make(map[entities.JobKind]context.CancelFunc),
	}
}

// Start acquires the lease of kind and runs fn detached. It returns
// started=false with an error matching ErrJobAlreadyRunning while another
// non-stale lease exists.
func (r *Runner) Start(kind entities.JobKind, fn JobFunc) (bool, error) {
	if err := r.base.Err(); err != nil {
		return false, cancelledError(err)
	}

	lease, err := r.acquire(r.base, kind)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(r.base)
	r.track(kind, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(kind, cancel)
		r.execute(ctx, kind, lease, fn, true)
	}()
	return true, nil
}

// RunSync acquires the lease of kind and runs fn on the caller's goroutine.
// The job can still be cancelled through Cancel.
func (r *Runner) RunSync(ctx context.Context, kind entities.JobKind, fn JobFunc) (*entities.JobProgress, error) {
	lease, err := r.acquire(ctx, kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	r.track(kind, cancel)
	defer r.untrack(kind, cancel)

	if err := r.execute(ctx, kind, lease, fn, false); err != nil {
		return nil, err
	}
	return r.progress.Get(context.WithoutCancel(ctx), kind)
}

// Cancel cancels the in-flight job of kind in this process. It reports whether one was running.
func (r *Runner) Cancel(kind entities.JobKind) bool {
	r.mu.Lock()
	cancel, ok := r.running[kind]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether this process runs a job of kind.
func (r *Runner) Running(kind entities.JobKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[kind]
	return ok
}

// Wait blocks until every detached job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Progress returns the progress document of kind.
func (r *Runner) Progress(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error) {
	return r.progress.Get(ctx, kind)
}

func (r *Runner) acquire(ctx context.Context, kind entities.JobKind) (*datastore.Lease, error) {
	if r.Running(kind) {
		r.recordConflict(kind)
		return nil, errors.New(ErrJobAlreadyRunning).
			Component(componentName).
			Category(errors.CategoryConflict).
			Priority(errors.PriorityLow).
			Context("kind", string(kind)).
			Build()
	}
	lease, err := r.progress.AcquireLease(ctx, kind)
	if err != nil {
		if datastore.IsLeaseConflict(err) {
			r.recordConflict(kind)
		}
		return nil, err
	}
	return lease, nil
}

func (r *Runner) track(kind entities.JobKind, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[kind] = cancel
}

func (r *Runner) untrack(kind entities.JobKind, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, kind)
}

// execute runs fn with a heartbeat, then writes the terminal status and
// releases the lease. It returns the job error.
func (r *Runner) execute(ctx context.Context, kind entities.JobKind, lease *datastore.Lease, fn JobFunc, notify bool) error {
	start := time.Now()
	if r.recorder != nil {
		r.recorder.RecordJobStarted(string(kind))
	}
	log := r.log
	if log != nil {
		log = log.With(logger.String("kind", string(kind)))
		log.Info("job started", logger.Bool("detached", notify))
	}

	jobCtx, stopJob := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		r.keepAlive(jobCtx, lease, stopJob)
	}()

	fields, err := fn(jobCtx, lease)
	stopJob()
	<-heartbeatDone

	// terminal writes must land even when the job context is cancelled
	writeCtx := context.WithoutCancel(ctx)
	result := metrics.ResultSuccess
	var writeErr error
	switch {
	case err == nil:
		writeErr = lease.Complete(writeCtx, fields)
	case ctx.Err() != nil || errors.IsCategory(err, errors.CategoryCancellation):
		result = metrics.ResultCancelled
		writeErr = lease.Fail(writeCtx, CancelledMessage)
		if !errors.IsCategory(err, errors.CategoryCancellation) {
			err = cancelledError(err)
		}
	default:
		result = metrics.ResultError
		writeErr = lease.Fail(writeCtx, err.Error())
	}

	elapsed := time.Since(start)
	if r.recorder != nil {
		r.recorder.RecordJobFinished(string(kind), result, elapsed.Seconds())
	}
	if log != nil {
		fieldsOut := []logger.Field{logger.String("result", result), logger.Duration("elapsed", elapsed)}
		if err != nil {
			fieldsOut = append(fieldsOut, logger.Error(err))
		}
		log.Info("job finished", fieldsOut...)
		if writeErr != nil {
			log.Error("failed to write terminal job status", logger.Error(writeErr))
		}
	}

	if notify && r.notifier != nil {
		if doc, getErr := r.progress.Get(writeCtx, kind); getErr == nil {
			r.notifier.JobFinished(writeCtx, doc)
		}
	}

	if err != nil {
		return err
	}
	return writeErr
}

// keepAlive refreshes the lease until ctx ends. Losing the lease stops the job.
func (r *Runner) keepAlive(ctx context.Context, lease *datastore.Lease, stop context.CancelFunc) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lease.Heartbeat(ctx)
			if err == nil || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, datastore.ErrLeaseLost) {
				if r.log != nil {
					r.log.Warn("job lease lost, stopping job", logger.String("kind", string(lease.Kind)))
				}
				stop()
				return
			}
			if r.log != nil {
				r.log.Warn("lease heartbeat failed", logger.String("kind", string(lease.Kind)), logger.Error(err))
			}
		}
	}
}

func (r *Runner) recordConflict(kind entities.JobKind) {
	if r.recorder != nil {
		r.recorder.RecordLeaseConflict(string(kind))
	}
}

package migration

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// Unknown legacy tag policies.
const (
	// UnknownTagDefault maps unknown tags to level 1 and logs a warning.
	UnknownTagDefault = "default"
	// UnknownTagFail aborts the run at the first unknown tag.
	UnknownTagFail = "fail"
)

// Defaults of the legacy migration.
const (
	DefaultBatchSize  = 10
	DefaultBatchPause = 500 * time.Millisecond
)

// defaultLegacyLevel is the level of unknown tags under UnknownTagDefault.
const defaultLegacyLevel = 1

// legacyLevels maps the string statuses used before levels became numeric.
var legacyLevels = map[string]int{
	"to_learn":    1,
	"want_repeat": 4,
	"well_known":  6,
	"unset":       1,
}

// LegacyLevel returns the level of a legacy tag and whether the tag is known.
func LegacyLevel(tag string) (int, bool) {
	level, ok := legacyLevels[tag]
	return level, ok
}

// LegacyOptions tunes the legacy migration.
type LegacyOptions struct {
	BatchSize        int
	BatchPause       time.Duration
	UnknownTagPolicy string
}

// LegacyProgress is the running state of a legacy migration.
type LegacyProgress struct {
	Total     int64
	Processed int64
	Migrated  int64
	Skipped   int64
	Batch     int64
}

// Fields returns the progress document columns of p.
func (p LegacyProgress) Fields() map[string]any {
	return map[string]any{
		"total":          p.Total,
		"processed":      p.Processed,
		"migrated_count": p.Migrated,
		"skipped_count":  p.Skipped,
		"current_batch":  p.Batch,
		"status":         entities.JobStatusRunning,
		"error":          nil,
	}
}

// LegacyResult is the outcome of a legacy migration run.
type LegacyResult struct {
	LegacyProgress
	// Defaulted counts unknown tags mapped to level 1.
	Defaulted int64
}

// LegacyReporter receives the counters after the word count and after every batch.
// A returned error stops the run.
type LegacyReporter func(ctx context.Context, progress LegacyProgress) error

// TrackerReporter writes legacy progress into the job's progress document.
func TrackerReporter(tracker Tracker) LegacyReporter {
	return func(ctx context.Context, progress LegacyProgress) error {
		if tracker == nil {
			return nil
		}
		return tracker.Update(ctx, progress.Fields())
	}
}

// LegacyStatusJob rewrites string statuses to numeric levels. Words are read
// in id order in batches, using the last id of a batch as the cursor of the
// next one. Numeric statuses are left untouched, so a rerun after a failure
// or cancellation only migrates what is left.
type LegacyStatusJob struct {
	words    repository.WordRepository
	tx       *datastore.Transactor
	opts     LegacyOptions
	recorder JobRecorder
	log      logger.Logger
}

// NewLegacyStatusJob creates the job.
func NewLegacyStatusJob(tx *datastore.Transactor, words repository.WordRepository, opts LegacyOptions, recorder JobRecorder, log logger.Logger) *LegacyStatusJob {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	if opts.UnknownTagPolicy == "" {
		opts.UnknownTagPolicy = UnknownTagDefault
	}
	if log != nil {
		log = log.Module("legacy")
	}
	return &LegacyStatusJob{
		words:    words,
		tx:       tx,
		opts:     opts,
		recorder: recorder,
		log:      log,
	}
}

// pendingMigration is one word of a batch that needs rewriting.
type pendingMigration struct {
	id    string
	tag   string
	level int
}

// Run migrates every word. Cancellation is checked between batches; on
// cancellation a CategoryCancellation error is returned and batches already
// written stay migrated.
func (j *LegacyStatusJob) Run(ctx context.Context, report LegacyReporter) (LegacyResult, error) {
	var result LegacyResult
	if report == nil {
		report = func(context.Context, LegacyProgress) error { return nil }
	}

	total, err := j.words.Count(ctx)
	if err != nil {
		return result, j.storeError(err, "count_words")
	}
	result.Total = total
	if err := report(ctx, result.LegacyProgress); err != nil {
		return result, trackerError(err, "report_total")
	}

	limiter := j.newLimiter()
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, cancelledError(err)
		}
		if result.Batch > 0 && limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return result, cancelledError(err)
			}
		}

		batch, err := j.words.ListAfter(ctx, cursor, j.opts.BatchSize)
		if err != nil {
			return result, j.storeError(err, "list_words", "start_after", cursor)
		}
		if len(batch) == 0 {
			break
		}

		pending, skipped, defaulted, err := j.plan(batch)
		if err != nil {
			return result, err
		}

		if err := j.write(ctx, pending); err != nil {
			return result, err
		}

		result.Batch++
		result.Processed += int64(len(batch))
		result.Migrated += int64(len(pending))
		result.Skipped += skipped
		result.Defaulted += defaulted
		j.recordBatch(len(pending), int(skipped), int(defaulted))

		if err := report(ctx, result.LegacyProgress); err != nil {
			return result, trackerError(err, "report_batch")
		}

		if len(batch) < j.opts.BatchSize {
			break
		}
		cursor = batch[len(batch)-1].ID
	}

	if j.log != nil {
		j.log.Info("legacy status migration finished",
			logger.Int64("total", result.Total),
			logger.Int64("migrated", result.Migrated),
			logger.Int64("skipped", result.Skipped),
			logger.Int64("defaulted", result.Defaulted),
			logger.Int64("batches", result.Batch))
	}
	return result, nil
}

// plan decides the new level of every word in batch not in canonical numeric form.
func (j *LegacyStatusJob) plan(batch []entities.Word) (pending []pendingMigration, skipped, defaulted int64, err error) {
	pending = make([]pendingMigration, 0, len(batch))
	for i := range batch {
		word := &batch[i]
		if word.Status.IsNumeric() {
			skipped++
			continue
		}

		tag := string(word.Status)
		// numbers written as "03" or "+3" are rewritten in canonical form
		if level, ok := entities.NormalizeStatus(tag).Level(); ok {
			pending = append(pending, pendingMigration{id: word.ID, tag: tag, level: level})
			continue
		}
		level, known := LegacyLevel(tag)
		if !known {
			if j.opts.UnknownTagPolicy == UnknownTagFail {
				return nil, 0, 0, errors.Newf("unknown legacy status %q on word %s", tag, word.ID).
					Component(componentName).
					Category(errors.CategoryValidation).
					Context("word_id", word.ID).
					Context("status", tag).
					Build()
			}
			if j.log != nil {
				j.log.Warn("unknown legacy status mapped to default level",
					logger.String("word_id", word.ID),
					logger.String("status", tag),
					logger.Int("level", defaultLegacyLevel))
			}
			level = defaultLegacyLevel
			defaulted++
		}
		pending = append(pending, pendingMigration{id: word.ID, tag: tag, level: level})
	}
	return pending, skipped, defaulted, nil
}

// write applies one batch in a single transaction.
func (j *LegacyStatusJob) write(ctx context.Context, pending []pendingMigration) error {
	if len(pending) == 0 {
		return nil
	}
	err := j.tx.Do(ctx, "migrate_legacy_batch", func(tx *gorm.DB) error {
		words := j.words.WithTx(tx)
		for _, p := range pending {
			if err := words.MigrateStatus(ctx, p.id, entities.NumericStatus(p.level), p.tag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return j.storeError(err, "migrate_legacy_batch", "first_word_id", pending[0].id)
	}
	return nil
}

func (j *LegacyStatusJob) newLimiter() *rate.Limiter {
	if j.opts.BatchPause <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(j.opts.BatchPause), 1)
	// the first batch starts at once; later batches wait one pause each
	limiter.Allow()
	return limiter
}

func (j *LegacyStatusJob) recordBatch(migrated, skipped, defaulted int) {
	if j.recorder == nil {
		return
	}
	j.recorder.RecordMigrationBatch()
	j.recorder.RecordMigrationRecords(metrics.OutcomeMigrated, migrated)
	j.recorder.RecordMigrationRecords(metrics.OutcomeSkipped, skipped)
	j.recorder.RecordMigrationRecords(metrics.OutcomeDefaulted, defaulted)
}

func (j *LegacyStatusJob) storeError(err error, operation string, pairs ...string) error {
	if errors.IsCategory(err, errors.CategoryCancellation) {
		return err
	}
	builder := errors.New(err).
		Component(componentName).
		Category(errors.CategoryDatabase).
		Context("operation", operation)
	for i := 0; i+1 < len(pairs); i += 2 {
		builder = builder.Context(pairs[i], pairs[i+1])
	}
	return builder.Build()
}

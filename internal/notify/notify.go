// Package notify sends a message through shoutrrr when a detached job
// reaches a terminal state.
package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// sender is the part of *router.ServiceRouter the notifier uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Recorder receives one observation per notification attempt.
// It is satisfied by *metrics.JobMetrics.
type Recorder interface {
	RecordNotification(result string)
}

// Config configures a Notifier.
type Config struct {
	Enabled  bool
	URLs     []string
	Timeout  time.Duration
	Logger   logger.Logger
	Recorder Recorder
}

// Notifier reports finished jobs. A disabled notifier drops every message.
// Send failures are logged and never returned to the job.
type Notifier struct {
	sender   sender
	recorder Recorder
	log      logger.Logger
}

// New builds a notifier. With Enabled set every URL is validated by
// building the shoutrrr router.
func New(cfg Config) (*Notifier, error) {
	n := &Notifier{recorder: cfg.Recorder}
	if cfg.Logger != nil {
		n.log = cfg.Logger.Module("notify")
	}
	if !cfg.Enabled {
		return n, nil
	}
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one notification url is required").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(slices.Clone(cfg.URLs)...)
	if err != nil {
		// the raw error may echo tokens embedded in the url
		return nil, errors.Newf("invalid notification url: %s", scrubURLs(err.Error(), cfg.URLs)).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout > 0 {
		router.Timeout = cfg.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))
	n.sender = router
	return n, nil
}

// Enabled reports whether messages are sent.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// JobFinished sends the outcome of a job.
func (n *Notifier) JobFinished(_ context.Context, progress *entities.JobProgress) {
	if !n.Enabled() || progress == nil || !progress.Status.IsTerminal() {
		return
	}

	title, body := Format(progress)
	if err := n.Send(title, body); err != nil && n.log != nil {
		n.log.Warn("job notification failed",
			logger.String("kind", string(progress.Kind)),
			logger.Error(err))
	}
}

// Send delivers one message to every configured service and returns the
// first failure.
func (n *Notifier) Send(title, body string) error {
	if !n.Enabled() {
		return errors.Newf("notifications are disabled").
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}

	params := stypes.Params{}
	params.SetTitle(title)

	var firstErr error
	for _, err := range n.sender.Send(body, &params) {
		if err != nil {
			firstErr = err
			break
		}
	}

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	}
	if n.recorder != nil {
		n.recorder.RecordNotification(result)
	}
	if firstErr != nil {
		return errors.New(firstErr).
			Component("notify").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

// Format renders the title and body of a job notification.
func Format(progress *entities.JobProgress) (title, body string) {
	kind := strings.ReplaceAll(string(progress.Kind), "_", " ")

	var b strings.Builder
	switch progress.Status {
	case entities.JobStatusCompleted:
		title = fmt.Sprintf("vocabstats: %s completed", kind)
		fmt.Fprintf(&b, "Processed %d of %d.", progress.Processed, progress.Total)
	default:
		title = fmt.Sprintf("vocabstats: %s failed", kind)
		msg := "unknown error"
		if progress.Error != nil {
			msg = *progress.Error
		}
		fmt.Fprintf(&b, "Error: %s. Processed %d of %d.", msg, progress.Processed, progress.Total)
	}

	if progress.Kind == entities.JobLegacyStatusMigration {
		fmt.Fprintf(&b, " Migrated %d, skipped %d.", progress.MigratedCount, progress.SkippedCount)
	}
	for _, step := range progress.Steps {
		fmt.Fprintf(&b, "\n- %s: %s (%d/%d)", step.Name, step.Status, step.Processed, step.Total)
	}
	if progress.StartedAt != nil && progress.CompletedAt != nil {
		fmt.Fprintf(&b, "\nDuration: %s", progress.CompletedAt.Sub(*progress.StartedAt).Round(time.Second))
	}
	return title, b.String()
}

func scrubURLs(message string, urls []string) string {
	for _, u := range urls {
		if u != "" {
			message = strings.ReplaceAll(message, u, "[redacted]")
		}
	}
	return message
}

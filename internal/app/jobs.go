package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
)

// RunJob runs kind in the foreground and writes a progress line to out every
// jobs.poll_interval until it finishes. Cancelling ctx cancels the job.
func (a *App) RunJob(ctx context.Context, kind entities.JobKind, out io.Writer) (*entities.JobProgress, error) {
	interval := a.Settings.Jobs.PollInterval
	done := make(chan struct{})
	polled := make(chan struct{})
	if interval > 0 && out != nil {
		go func() {
			defer close(polled)
			a.pollProgress(ctx, kind, out, interval, done)
		}()
	} else {
		close(polled)
	}

	progress, err := a.Jobs.RunSync(ctx, kind)
	close(done)
	<-polled
	return progress, err
}

func (a *App) pollProgress(ctx context.Context, kind entities.JobKind, out io.Writer, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p, err := a.Jobs.Progress(ctx, kind)
		if err != nil || p.Status != entities.JobStatusRunning {
			continue
		}
		fmt.Fprintln(out, ProgressLine(p))
	}
}

// ProgressLine renders a progress document on one line.
func ProgressLine(p *entities.JobProgress) string {
	line := fmt.Sprintf("%s: %s %d/%d (%.1f%%)", p.Kind, p.Status, p.Processed, p.Total, p.Percent())
	if p.CurrentStep != "" {
		line += " step=" + p.CurrentStep
	}
	if p.Kind == entities.JobLegacyStatusMigration {
		line += fmt.Sprintf(" migrated=%d skipped=%d", p.MigratedCount, p.SkippedCount)
	}
	if p.Error != nil {
		line += " error=" + *p.Error
	}
	return line
}

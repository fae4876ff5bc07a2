// Package app assembles vocabstats from its settings: the record store,
// aggregate maintenance, the job runner and their ambient services.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/lexitally/vocabstats/internal/aggregate"
	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/identity"
	"github.com/lexitally/vocabstats/internal/importer"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/migration"
	"github.com/lexitally/vocabstats/internal/notify"
	"github.com/lexitally/vocabstats/internal/observability"
)

// sentryFlushTimeout bounds how long Close waits for queued events.
const sentryFlushTimeout = 2 * time.Second

// App holds every long-lived component. Build it with New and release it with Close.
type App struct {
	Settings *conf.Settings
	Log      logger.Logger
	Metrics  *observability.Metrics

	Store    datastore.Manager
	Tx       *datastore.Transactor
	Progress *datastore.ProgressManager
	Words    repository.WordRepository
	Analyses repository.AnalysisRepository
	Learners repository.LearnerRepository

	Cache     *aggregate.DisplayCache
	Updater   *aggregate.Updater
	Rebuilder *aggregate.Rebuilder
	Reader    *aggregate.Reader
	Jobs      *migration.Service
	Importer  *importer.Importer

	cancel       context.CancelFunc
	sentryActive bool
}

// New opens the store and wires every component. Detached jobs run on a
// context that Close cancels.
func New(ctx context.Context, settings *conf.Settings, out io.Writer) (*App, error) {
	level := logger.LogLevel(settings.Logging.Level)
	if settings.Debug {
		level = logger.LogLevelDebug
	}
	log := logger.NewSlogLogger(out, level, settings.Logging.Location()).Module("vocabstats")

	a := &App{Settings: settings, Log: log}
	if err := a.initSentry(); err != nil {
		return nil, err
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("error creating metrics: %w", err)
	}
	a.Metrics = m

	store, err := datastore.NewManager(&settings.Database, log.Module("datastore"), settings.Logging.SlowQueryThreshold)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.Store = store

	db := store.DB()
	a.Tx = datastore.NewTransactor(db, datastore.TxOptions{
		MaxRetries: settings.Database.TransactionRetries,
		BaseDelay:  settings.Database.TransactionBackoff,
		Observer:   m.Store,
		Logger:     log.Module("datastore"),
	})
	a.Progress = datastore.NewProgressManager(db, settings.Jobs.LeaseTTL)
	a.Words = repository.NewWordRepository(db)
	a.Analyses = repository.NewAnalysisRepository(db)
	a.Learners = repository.NewLearnerRepository(db)

	if ttl := settings.Aggregates.DisplayCacheTTL; ttl > 0 {
		a.Cache = aggregate.NewDisplayCache(ttl)
	}

	users, err := a.identityProvider()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	deps := aggregate.Deps{
		Tx:       a.Tx,
		Words:    a.Words,
		Analyses: a.Analyses,
		Learners: a.Learners,
		Cache:    a.Cache,
		Metrics:  m.Aggregate,
		Logger:   log,
	}
	a.Updater = aggregate.NewUpdater(deps)
	a.Reader = aggregate.NewReader(deps)
	a.Rebuilder = aggregate.NewRebuilder(deps, users, aggregate.RebuildOptions{
		ChunkSize:    settings.Aggregates.ChunkSize,
		Concurrency:  settings.Aggregates.RebuildConcurrency,
		UserPageSize: settings.Aggregates.UserPageSize,
	})

	notifier, err := notify.New(notify.Config{
		Enabled:  settings.Notifications.Enabled,
		URLs:     settings.Notifications.URLs,
		Timeout:  settings.Notifications.Timeout,
		Logger:   log,
		Recorder: m.Jobs,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	legacy := migration.NewLegacyStatusJob(a.Tx, a.Words, migration.LegacyOptions{
		BatchSize:        settings.Migration.BatchSize,
		BatchPause:       settings.Migration.BatchPause,
		UnknownTagPolicy: settings.Migration.UnknownTagPolicy,
	}, m.Jobs, log)

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	runner := migration.NewRunner(base, a.Progress, settings.Jobs.LeaseTTL, migration.RunnerOptions{
		Recorder: m.Jobs,
		Notifier: notifier,
		Logger:   log,
	})
	orchestrator := migration.NewOrchestrator(migration.DefaultSteps(a.Rebuilder, legacy), log)
	a.Jobs = migration.NewService(runner, legacy, a.Rebuilder, orchestrator)

	a.Importer = importer.New(a.Tx, a.Words, a.Analyses, a.Learners, log)

	log.Info("vocabstats initialized",
		logger.String("database", store.Path()),
		logger.String("identity_provider", users.Name()),
		logger.Bool("notifications", notifier.Enabled()),
		logger.Bool("sentry", a.sentryActive))
	return a, nil
}

// Close cancels detached jobs, waits for them to write their terminal status
// and closes the store.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Jobs != nil {
		a.Jobs.Wait()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.sentryActive {
		sentry.Flush(sentryFlushTimeout)
	}
	return err
}

func (a *App) identityProvider() (identity.Provider, error) {
	s := a.Settings.Identity
	switch s.Provider {
	case conf.IdentityProviderRemote:
		p, err := identity.NewHTTPProvider(identity.HTTPConfig{
			BaseURL:    s.HTTP.BaseURL,
			Token:      s.HTTP.Token,
			Timeout:    s.HTTP.Timeout,
			MaxRetries: s.HTTP.MaxRetries,
			Logger:     a.Log,
			Recorder:   a.Metrics.Jobs,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case conf.IdentityProviderStore, "":
		return identity.NewStoreProvider(a.Learners, a.Metrics.Jobs), nil
	default:
		return nil, errors.Newf("unknown identity provider %q", s.Provider).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func (a *App) initSentry() error {
	s := a.Settings.Sentry
	if !s.Enabled || s.DSN == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		Environment:      s.Environment,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			event.ServerName = ""
			return event
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	a.sentryActive = true
	return nil
}

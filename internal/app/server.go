package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	api "github.com/lexitally/vocabstats/internal/api/v1"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/scheduler"
)

const (
	shutdownTimeout   = 10 * time.Second
	poolStatsInterval = 15 * time.Second
)

// NewEcho builds the HTTP server with every API route registered.
func (a *App) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	api.New(e, api.Deps{
		Jobs:           a.Jobs,
		Reader:         a.Reader,
		Updater:        a.Updater,
		Words:          a.Words,
		Tx:             a.Tx,
		Recorder:       a.Metrics.API,
		MetricsHandler: a.Metrics.Handler(),
		Logger:         a.Log,
	})
	return e
}

// Serve runs the HTTP API and, when enabled, the reconciliation scheduler
// until ctx is cancelled, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	log := a.Log.Module("server")

	var sched *scheduler.Scheduler
	if a.Settings.Scheduler.Enabled {
		s, err := scheduler.New(a.Settings.Scheduler, a.Jobs, a.Log)
		if err != nil {
			return err
		}
		sched = s
		sched.Start()
		defer sched.Stop()
	}

	go a.reportPoolStats(ctx)

	e := a.NewEcho()
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", logger.String("address", a.Settings.Webserver.Listen))
		if err := e.Start(a.Settings.Webserver.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return errors.New(err).
				Component("server").
				Category(errors.CategoryNetwork).
				Context("address", a.Settings.Webserver.Listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown signal received, stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("error during server shutdown", logger.Error(err))
		return err
	}
	return nil
}

// reportPoolStats copies the connection pool state into the store gauges.
func (a *App) reportPoolStats(ctx context.Context) {
	sqlDB, err := a.Store.DB().DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		a.Metrics.Store.UpdatePoolStats(sqlDB.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

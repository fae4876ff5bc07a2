package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// StartResponse is returned by the detached job triggers.
type StartResponse struct {
	Started bool   `json:"started"`
	Error   string `json:"error,omitempty"`
}

// RebuildResponse is returned by the synchronous rebuild triggers.
type RebuildResponse struct {
	Success   bool   `json:"success"`
	Processed int64  `json:"processed"`
	Error     string `json:"error,omitempty"`
}

// CancelResponse is returned by the cancel route.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// NotStartedResponse stands in for a progress document that was never written.
type NotStartedResponse struct {
	Status entities.JobStatus `json:"status"`
}

func (c *Controller) initAdminRoutes() {
	c.Admin.POST("/start-legacy-migration", c.startJob(entities.JobLegacyStatusMigration))
	c.Admin.GET("/migration-progress", c.jobProgress(entities.JobLegacyStatusMigration))
	c.Admin.POST("/start-analysis-aggregate-rebuild", c.runRebuild(entities.JobAnalysisAggregateRebuild))
	c.Admin.POST("/start-learner-aggregate-rebuild", c.runRebuild(entities.JobLearnerAggregateRebuild))
	c.Admin.POST("/start-multi-step-migration", c.startJob(entities.JobMultiStepMigration))
	c.Admin.GET("/multi-step-progress", c.jobProgress(entities.JobMultiStepMigration))
	c.Admin.POST("/jobs/:kind/cancel", c.CancelJob)
}

// startJob handles the detached triggers. A held lease answers 409 with started=false.
func (c *Controller) startJob(kind entities.JobKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		started, err := c.jobs.Start(kind)
		if err != nil {
			code := StatusCode(err)
			if code != http.StatusConflict {
				return c.HandleError(ctx, err, "Failed to start job", code)
			}
			c.log.Info("job start refused, lease held", logger.String("kind", string(kind)))
			return ctx.JSON(code, StartResponse{Started: false, Error: err.Error()})
		}

		c.log.Info("job started", logger.String("kind", string(kind)), logger.String("ip", ctx.RealIP()))
		return ctx.JSON(http.StatusAccepted, StartResponse{Started: started})
	}
}

// jobProgress handles the progress routes.
func (c *Controller) jobProgress(kind entities.JobKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		progress, err := c.jobs.Progress(ctx.Request().Context(), kind)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to read job progress", StatusCode(err))
		}
		if progress.Status == entities.JobStatusNotStarted {
			return ctx.JSON(http.StatusOK, NotStartedResponse{Status: entities.JobStatusNotStarted})
		}
		return ctx.JSON(http.StatusOK, progress)
	}
}

// runRebuild runs a bulk rebuild in the request and reports how many
// aggregates it processed.
func (c *Controller) runRebuild(kind entities.JobKind) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		reqCtx := ctx.Request().Context()
		progress, err := c.jobs.RunSync(reqCtx, kind)
		if err == nil {
			return ctx.JSON(http.StatusOK, RebuildResponse{Success: true, Processed: progress.Processed})
		}

		resp := RebuildResponse{Error: err.Error()}
		code := StatusCode(err)
		if code != http.StatusConflict {
			// the failed run leaves its partial count in the progress document
			if doc, getErr := c.jobs.Progress(reqCtx, kind); getErr == nil {
				resp.Processed = doc.Processed
			}
			c.log.Error("rebuild failed", logger.String("kind", string(kind)), logger.Error(err))
		}
		return ctx.JSON(code, resp)
	}
}

// CancelJob handles POST /api/v1/admin/jobs/:kind/cancel
func (c *Controller) CancelJob(ctx echo.Context) error {
	kind, ok := entities.ParseJobKind(ctx.Param("kind"))
	if !ok {
		err := errors.Newf("unknown job kind %q", ctx.Param("kind")).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
		return c.HandleError(ctx, err, "Unknown job kind", http.StatusBadRequest)
	}

	cancelled := c.jobs.Cancel(kind)
	c.log.Info("job cancel requested",
		logger.String("kind", string(kind)),
		logger.Bool("cancelled", cancelled))
	return ctx.JSON(http.StatusOK, CancelResponse{Cancelled: cancelled})
}

// Package api implements the vocabstats HTTP API: admin job triggers under
// /api/v1/admin and aggregate display and status change routes under /api/v1.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lexitally/vocabstats/internal/datastore"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/datastore/repository"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
)

// JobService starts, runs and inspects jobs. It is satisfied by *migration.Service.
type JobService interface {
	Start(kind entities.JobKind) (bool, error)
	RunSync(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error)
	Cancel(kind entities.JobKind) bool
	Progress(ctx context.Context, kind entities.JobKind) (*entities.JobProgress, error)
}

// AggregateReader serves stored aggregates. It is satisfied by *aggregate.Reader.
type AggregateReader interface {
	LearnerCounts(ctx context.Context, ownerID string) (entities.StatusCounts, error)
	AnalysisCounts(ctx context.Context, analysisID string) (entities.StatusCounts, error)
}

// StatusUpdater applies a status transition to aggregates. It is satisfied by *aggregate.Updater.
type StatusUpdater interface {
	ApplyStatusChange(ctx context.Context, wordID, ownerID string, oldLevel, newLevel int) error
}

// RequestRecorder observes served requests and status writes. It is satisfied by *metrics.APIMetrics.
type RequestRecorder interface {
	RecordRequest(method, route, code string, seconds float64)
	RecordStatusWrite(outcome string)
}

// Deps are the collaborators of the controller.
type Deps struct {
	Jobs    JobService
	Reader  AggregateReader
	Updater StatusUpdater
	Words   repository.WordRepository
	// Tx runs the status write and the read of the previous status together.
	Tx       *datastore.Transactor
	Recorder RequestRecorder
	// MetricsHandler is served on GET /metrics when set.
	MetricsHandler http.Handler
	Logger         logger.Logger
}

// Controller manages the API routes and their dependencies.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group
	Admin *echo.Group

	jobs     JobService
	reader   AggregateReader
	updater  StatusUpdater
	words    repository.WordRepository
	tx       *datastore.Transactor
	recorder RequestRecorder
	log      logger.Logger
}

// New registers every route on e and returns the controller.
func New(e *echo.Echo, deps Deps) *Controller {
	c := &Controller{
		Echo:     e,
		jobs:     deps.Jobs,
		reader:   deps.Reader,
		updater:  deps.Updater,
		words:    deps.Words,
		tx:       deps.Tx,
		recorder: deps.Recorder,
		log:      deps.Logger.Module("api"),
	}

	e.Use(c.MetricsMiddleware(), c.LoggingMiddleware())
	e.GET("/healthz", c.HealthCheck)
	if deps.MetricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	}

	c.Group = e.Group("/api/v1")
	c.Admin = c.Group.Group("/admin")
	c.initAdminRoutes()
	c.initAggregateRoutes()
	return c
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an error body with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes an error body with code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Warn("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// StatusCode maps an error category to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsNotFound(err), errors.Is(err, repository.ErrWordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// LoggingMiddleware logs every request with its latency.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("path", req.URL.Path),
				logger.Int("status", ctx.Response().Status),
				logger.String("ip", ctx.RealIP()),
				logger.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}
			c.log.Debug("API request", fields...)
			return err
		}
	}
}

// MetricsMiddleware records request counts and durations by route template.
func (c *Controller) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c.recorder == nil {
				return next(ctx)
			}
			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			var httpErr *echo.HTTPError
			if err != nil && errors.As(err, &httpErr) {
				status = httpErr.Code
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			c.recorder.RecordRequest(ctx.Request().Method, route, strconv.Itoa(status), time.Since(start).Seconds())
			return err
		}
	}
}

// HealthCheck handles GET /healthz.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

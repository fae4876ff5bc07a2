package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/lexitally/vocabstats/internal/aggregate"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/errors"
	"github.com/lexitally/vocabstats/internal/logger"
	"github.com/lexitally/vocabstats/internal/observability/metrics"
)

// LearnerAggregateResponse is the display aggregate of a learner.
type LearnerAggregateResponse struct {
	OwnerID  string                `json:"owner_id"`
	Counts   entities.StatusCounts `json:"counts"`
	Computed bool                  `json:"computed"`
}

// AnalysisAggregateResponse is the display aggregate of an analysis.
type AnalysisAggregateResponse struct {
	AnalysisID string                `json:"analysis_id"`
	Counts     entities.StatusCounts `json:"counts"`
	Computed   bool                  `json:"computed"`
}

// StatusChangeRequest is the body of PUT /api/v1/words/:wordId/status.
type StatusChangeRequest struct {
	Status string `json:"status"`
}

// StatusChangeResponse reports the status write and whether the aggregates followed it.
type StatusChangeResponse struct {
	WordID            string `json:"word_id"`
	OldStatus         string `json:"old_status"`
	Status            string `json:"status"`
	AggregatesUpdated bool   `json:"aggregates_updated"`
}

func (c *Controller) initAggregateRoutes() {
	c.Group.GET("/learners/:ownerId/aggregate", c.GetLearnerAggregate)
	c.Group.GET("/analyses/:analysisId/aggregate", c.GetAnalysisAggregate)
	c.Group.PUT("/words/:wordId/status", c.UpdateWordStatus)
}

// GetLearnerAggregate handles GET /api/v1/learners/:ownerId/aggregate
func (c *Controller) GetLearnerAggregate(ctx echo.Context) error {
	ownerID := ctx.Param("ownerId")
	counts, err := c.reader.LearnerCounts(ctx.Request().Context(), ownerID)
	computed := true
	switch {
	case errors.Is(err, aggregate.ErrNotComputed):
		counts, computed = entities.NewStatusCounts(), false
	case err != nil:
		return c.HandleError(ctx, err, "Failed to read learner aggregate", StatusCode(err))
	}
	return ctx.JSON(http.StatusOK, LearnerAggregateResponse{OwnerID: ownerID, Counts: counts, Computed: computed})
}

// GetAnalysisAggregate handles GET /api/v1/analyses/:analysisId/aggregate
func (c *Controller) GetAnalysisAggregate(ctx echo.Context) error {
	analysisID := ctx.Param("analysisId")
	counts, err := c.reader.AnalysisCounts(ctx.Request().Context(), analysisID)
	computed := true
	switch {
	case errors.Is(err, aggregate.ErrNotComputed):
		counts, computed = entities.NewStatusCounts(), false
	case err != nil:
		return c.HandleError(ctx, err, "Failed to read analysis aggregate", StatusCode(err))
	}
	return ctx.JSON(http.StatusOK, AnalysisAggregateResponse{AnalysisID: analysisID, Counts: counts, Computed: computed})
}

// UpdateWordStatus handles PUT /api/v1/words/:wordId/status.
// The status write is canonical: an aggregate failure is logged and reported
// through aggregates_updated without failing the request.
func (c *Controller) UpdateWordStatus(ctx echo.Context) error {
	wordID := ctx.Param("wordId")
	reqCtx := ctx.Request().Context()

	var req StatusChangeRequest
	if err := ctx.Bind(&req); err != nil {
		c.recordStatusWrite(metrics.StatusWriteRejected)
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	status := entities.NormalizeStatus(req.Status)
	newLevel, ok := status.Level()
	if !ok {
		err := errors.Newf("status must be a level between %d and %d", entities.MinStatus, entities.MaxStatus).
			Component("api").
			Category(errors.CategoryValidation).
			Context("status", req.Status).
			Build()
		c.recordStatusWrite(metrics.StatusWriteRejected)
		return c.HandleError(ctx, err, "Invalid status", http.StatusBadRequest)
	}

	// the locked read of the previous status and the write share one transaction
	var (
		word *entities.Word
		old  entities.StatusValue
	)
	err := c.tx.Do(reqCtx, "update_word_status", func(tx *gorm.DB) error {
		words := c.words.WithTx(tx)
		prev, err := words.UpdateStatus(reqCtx, wordID, status)
		if err != nil {
			return err
		}
		current, err := words.GetByID(reqCtx, wordID)
		if err != nil {
			return err
		}
		word, old = current, prev
		return nil
	})
	if err != nil {
		return c.HandleError(ctx, err, "Failed to update word status", StatusCode(err))
	}

	resp := StatusChangeResponse{WordID: wordID, OldStatus: string(old), Status: string(status)}
	oldLevel, numeric := old.Level()
	switch {
	case !numeric:
		// unmigrated rows are counted by the next rebuild
		c.log.Warn("previous status is not numeric, aggregates left to reconciliation",
			logger.String("word_id", wordID),
			logger.String("old_status", string(old)))
		c.recordStatusWrite(metrics.StatusWriteDeferred)
	default:
		if err := c.updater.ApplyStatusChange(reqCtx, wordID, word.OwnerID, oldLevel, newLevel); err != nil {
			c.log.Error("aggregate update failed after status change",
				logger.String("word_id", wordID),
				logger.String("owner_id", word.OwnerID),
				logger.Error(err))
			c.recordStatusWrite(metrics.StatusWriteAggregateFailed)
		} else {
			resp.AggregatesUpdated = true
			c.recordStatusWrite(metrics.StatusWriteApplied)
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) recordStatusWrite(outcome string) {
	if c.recorder != nil {
		c.recorder.RecordStatusWrite(outcome)
	}
}

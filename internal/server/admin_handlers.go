package server

import (
	"context"
	"errors"

	"postscript/internal/indexer"
	"postscript/internal/models"
	"postscript/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// ReindexComments godoc
// @Summary Rebuild the comment search index
// @Description Re-upserts every live comment and refreshes the index. Runs in the background unless wait=true.
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param wait query bool false "Block until the run finishes and return its report"
// @Success 200 {object} indexer.Report
// @Success 202 {object} map[string]string
// @Failure 403 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /admin/search/reindex [post]
func (s *Server) ReindexComments(c *fiber.Ctx) error {
	actor, err := s.currentUser(c)
	if err != nil {
		return respond(c, err)
	}
	if err := s.policy.CanReindex(actor); err != nil {
		return respond(c, err)
	}
	if s.reindexer.Running() {
		return reindexConflict(c)
	}

	if c.QueryBool("wait", false) {
		report, err := s.reindexer.Run(c.UserContext())
		if errors.Is(err, indexer.ErrReindexRunning) {
			return reindexConflict(c)
		}
		if err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		}
		return c.JSON(report)
	}

	requestedBy := actor.ID
	if err := s.pools.SubmitDetached(func(ctx context.Context) {
		report, err := s.reindexer.Run(ctx)
		if err != nil {
			observability.Logger.ErrorContext(ctx, "background reindex failed",
				"requested_by", requestedBy, "error", err)
			return
		}
		observability.Logger.InfoContext(ctx, "background reindex finished",
			"requested_by", requestedBy,
			"indexed", report.Indexed,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"duration", report.Duration)
	}); err != nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewTransientError("Reindex could not be scheduled", err))
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Reindex started"})
}

func reindexConflict(c *fiber.Ctx) error {
	return c.Status(fiber.StatusConflict).JSON(models.ErrorResponse{
		Error: indexer.ErrReindexRunning.Error(),
		Code:  "CONFLICT",
	})
}

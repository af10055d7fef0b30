package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"postscript/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers return nil on it.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError(fmt.Sprintf("Invalid %s", idLabel(param))))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

func idLabel(param string) string {
	if param == "id" {
		return "ID"
	}
	return strings.TrimSuffix(param, "Id") + " ID"
}

// respond writes err with the status its code maps to.
func respond(c *fiber.Ctx, err error) error {
	return models.RespondWithError(c, models.StatusFor(err), err)
}

func validateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return models.NewValidationError("message is required")
	}
	if utf8.RuneCountInString(message) > models.MaxCommentMessageLength {
		return models.NewValidationError(
			fmt.Sprintf("message must be at most %d characters", models.MaxCommentMessageLength))
	}
	return nil
}

func validateRating(rating *int) error {
	if rating == nil {
		return nil
	}
	if *rating < models.MinCommentRating || *rating > models.MaxCommentRating {
		return models.NewValidationError(
			fmt.Sprintf("rating must be between %d and %d", models.MinCommentRating, models.MaxCommentRating))
	}
	return nil
}

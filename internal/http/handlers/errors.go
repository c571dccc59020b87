package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/models"
	"go.uber.org/zap"
)

// respondError maps service errors onto HTTP statuses. Anything not
// covered by a sentinel is treated as internal and logged; the caller
// gets a generic message so internals never leak through the API.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidStatus), errors.Is(err, models.ErrAlreadyRated):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrDeadlinePassed),
		errors.Is(err, custody.ErrInsufficientFunds):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		reqID := middleware.GetRequestID(c)
		log.Error("request failed", zap.Error(err), zap.String("path", c.Path()), zap.String("request_id", reqID))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
	}
}

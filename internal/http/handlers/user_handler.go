package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type UserHandler struct {
	userRepo       *repositories.UserRepo
	reputationRepo *repositories.ReputationRepo
	log            *zap.Logger
}

func NewUserHandler(userRepo *repositories.UserRepo, reputationRepo *repositories.ReputationRepo, log *zap.Logger) *UserHandler {
	return &UserHandler{userRepo: userRepo, reputationRepo: reputationRepo, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.userRepo.GetByID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "user not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) Ping(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if err := h.userRepo.UpdateLastActive(c.Context(), userID); err != nil {
		h.log.Error("failed to update last_active", zap.Error(err))
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// GetReputation is public within the platform: any authenticated user
// can check a counterparty before entering an agreement.
func (h *UserHandler) GetReputation(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid user id"})
	}

	rep, err := h.reputationRepo.Get(c.Context(), userID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rep})
}

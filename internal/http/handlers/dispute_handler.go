package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputeService *services.DisputeService
	log            *zap.Logger
}

func NewDisputeHandler(disputeService *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputeService: disputeService, log: log}
}

func (h *DisputeHandler) RaiseDispute(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	var req dto.RaiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.disputeService.Raise(c.Context(), id, idx, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *DisputeHandler) RespondDispute(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	var req dto.RespondDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.disputeService.Respond(c.Context(), id, idx, middleware.GetUserID(c), req.Response)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *DisputeHandler) ResolveDispute(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.disputeService.Resolve(c.Context(), id, idx, middleware.GetUserID(c), services.ResolveDisputeInput{
		Outcome:     req.Outcome,
		PayerAmount: req.PayerAmount,
		PayeeAmount: req.PayeeAmount,
		Notes:       req.Notes,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type MilestoneHandler struct {
	agreementService *services.AgreementService
	milestoneService *services.MilestoneService
	log              *zap.Logger
}

func NewMilestoneHandler(agreementService *services.AgreementService, milestoneService *services.MilestoneService, log *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{agreementService: agreementService, milestoneService: milestoneService, log: log}
}

func (h *MilestoneHandler) GetMilestone(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	milestone, err := h.agreementService.GetMilestone(c.Context(), id, idx, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *MilestoneHandler) StartMilestone(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	milestone, err := h.milestoneService.Start(c.Context(), id, idx, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *MilestoneHandler) SubmitForReview(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	var req dto.SubmitReviewRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.milestoneService.SubmitForReview(c.Context(), id, idx, middleware.GetUserID(c), req.Note)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *MilestoneHandler) RequestRevision(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	var req dto.RequestRevisionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.milestoneService.RequestRevision(c.Context(), id, idx, middleware.GetUserID(c), req.Feedback)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *MilestoneHandler) ApproveMilestone(c *fiber.Ctx) error {
	id, idx, err := parseMilestoneRef(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid milestone reference"})
	}

	milestone, err := h.milestoneService.Approve(c.Context(), id, idx, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *MilestoneHandler) RateParticipant(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	var req dto.RateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	agreement, err := h.milestoneService.RateParticipant(c.Context(), id, middleware.GetUserID(c), req.Rating)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: agreement})
}

func parseMilestoneRef(c *fiber.Ctx) (int64, int, error) {
	id, err := parseAgreementID(c)
	if err != nil {
		return 0, 0, err
	}
	idx, err := strconv.Atoi(c.Params("idx"))
	if err != nil {
		return 0, 0, err
	}
	return id, idx, nil
}

package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
	"github.com/milestone-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type AgreementHandler struct {
	agreementService *services.AgreementService
	ledger           *custody.LedgerAdapter
	log              *zap.Logger
}

func NewAgreementHandler(agreementService *services.AgreementService, ledger *custody.LedgerAdapter, log *zap.Logger) *AgreementHandler {
	return &AgreementHandler{agreementService: agreementService, ledger: ledger, log: log}
}

func (h *AgreementHandler) CreateAgreement(c *fiber.Ctx) error {
	var req dto.CreateAgreementRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	payeeID, err := uuid.Parse(req.PayeeID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid payee_id"})
	}

	asset := models.Asset{Kind: req.AssetKind, Address: req.AssetAddress}
	if asset.Kind == "" {
		asset.Kind = models.AssetKindNative
	}

	payerID := middleware.GetUserID(c)
	agreement, err := h.agreementService.CreateAgreement(c.Context(), payerID, services.CreateAgreementInput{
		PayeeID:     payeeID,
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Asset:       asset,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: agreement})
}

func (h *AgreementHandler) ListAgreements(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.AgreementFilter{
		PartyID: &userID,
		Limit:   20,
		Offset:  0,
	}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}
	if v := c.Query("role"); v == "payer" || v == "payee" {
		filter.Role = &v
	}

	agreements, err := h.agreementService.ListAgreements(c.Context(), filter)
	if err != nil {
		h.log.Error("list agreements failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: agreements})
}

func (h *AgreementHandler) GetAgreement(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	detail, err := h.agreementService.GetAgreement(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: detail})
}

func (h *AgreementHandler) AddMilestone(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	var req dto.AddMilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	milestone, err := h.agreementService.AddMilestone(c.Context(), id, middleware.GetUserID(c), services.AddMilestoneInput{
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
		Deadline:    req.Deadline,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: milestone})
}

func (h *AgreementHandler) FundAgreement(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	agreement, err := h.agreementService.FundAgreement(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: agreement})
}

func (h *AgreementHandler) CancelAgreement(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	agreement, err := h.agreementService.CancelAgreement(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: agreement})
}

func (h *AgreementHandler) GetEvents(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	events, err := h.agreementService.GetEvents(c.Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: events})
}

// GetTransfers returns the custody ledger rows of one agreement. The
// service call doubles as the access check.
func (h *AgreementHandler) GetTransfers(c *fiber.Ctx) error {
	id, err := parseAgreementID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid agreement id"})
	}

	if _, err := h.agreementService.GetAgreement(c.Context(), id, middleware.GetUserID(c)); err != nil {
		return respondError(c, h.log, err)
	}

	transfers, err := h.ledger.ListTransfersByAgreement(c.Context(), id)
	if err != nil {
		h.log.Error("list transfers failed", zap.Error(err), zap.Int64("agreement_id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: transfers})
}

func parseAgreementID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

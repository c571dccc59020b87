package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/middleware"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type WalletHandler struct {
	walletService *services.WalletService
	log           *zap.Logger
}

func NewWalletHandler(walletService *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletService: walletService, log: log}
}

// GetWallets returns every asset balance of the caller.
// GET /me/wallet
func (h *WalletHandler) GetWallets(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	wallets, err := h.walletService.Balances(c.Context(), userID)
	if err != nil {
		h.log.Error("list wallets failed", zap.Error(err), zap.String("user_id", userID.String()))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: wallets})
}

// Topup credits the caller's wallet.
// POST /me/wallet/topup
func (h *WalletHandler) Topup(c *fiber.Ctx) error {
	var req dto.TopupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	asset := models.Asset{Kind: req.AssetKind, Address: req.AssetAddress}
	if asset.Kind == "" {
		asset.Kind = models.AssetKindNative
	}

	wallet, err := h.walletService.Topup(c.Context(), middleware.GetUserID(c), asset, req.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: wallet})
}

// Withdraw debits the caller's wallet.
// POST /me/wallet/withdraw
func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	asset := models.Asset{Kind: req.AssetKind, Address: req.AssetAddress}
	if asset.Kind == "" {
		asset.Kind = models.AssetKindNative
	}

	wallet, err := h.walletService.Withdraw(c.Context(), middleware.GetUserID(c), asset, req.Amount)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: wallet})
}

// ListTransfers returns the caller's slice of the custody ledger.
// GET /me/transfers
func (h *WalletHandler) ListTransfers(c *fiber.Ctx) error {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	userID := middleware.GetUserID(c)
	transfers, err := h.walletService.Transfers(c.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error("list transfers failed", zap.Error(err), zap.String("user_id", userID.String()))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: transfers})
}

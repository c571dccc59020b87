package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/auth"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/http/dto"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type AuthHandler struct {
	userRepo   *repositories.UserRepo
	walletRepo *repositories.WalletRepo
	cfg        *config.Config
	log        *zap.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepo, walletRepo *repositories.WalletRepo, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, walletRepo: walletRepo, cfg: cfg, log: log}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 3 || len(username) > 64 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "username must be 3-64 characters"})
	}
	if len(req.Password) < 8 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "password must be at least 8 characters"})
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("failed to hash password", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	user := &models.User{
		Username:     username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
	}
	if err := h.userRepo.Create(c.Context(), user); err != nil {
		if errors.Is(err, repositories.ErrUsernameTaken) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "username already taken"})
		}
		h.log.Error("failed to create user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	// Every account starts with an empty native wallet.
	if _, err := h.walletRepo.Credit(c.Context(), user.ID, models.Asset{Kind: models.AssetKindNative}, 0); err != nil {
		h.log.Error("failed to create wallet", zap.Error(err), zap.String("user_id", user.ID.String()))
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Username, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.AuthResponse{
		Token: token,
		User:  user,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	user, err := h.userRepo.GetByUsername(c.Context(), username)
	if err != nil {
		// Same response for unknown user and bad password.
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
	}

	if err := h.userRepo.UpdateLastActive(c.Context(), user.ID); err != nil {
		h.log.Warn("failed to update last active", zap.Error(err))
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Username, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{
		Token: token,
		User:  user,
	})
}

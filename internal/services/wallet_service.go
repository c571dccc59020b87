package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// WalletService manages free (non-escrowed) balances. Escrowed funds
// only move through the custody adapter inside agreement operations.
type WalletService struct {
	walletRepo *repositories.WalletRepo
	ledger     *custody.LedgerAdapter
	auditRepo  *repositories.AuditRepo
	cfg        *config.Config
	log        *zap.Logger
}

func NewWalletService(
	walletRepo *repositories.WalletRepo,
	ledger *custody.LedgerAdapter,
	auditRepo *repositories.AuditRepo,
	cfg *config.Config,
	log *zap.Logger,
) *WalletService {
	return &WalletService{
		walletRepo: walletRepo,
		ledger:     ledger,
		auditRepo:  auditRepo,
		cfg:        cfg,
		log:        log,
	}
}

func (s *WalletService) Topup(ctx context.Context, userID uuid.UUID, asset models.Asset, amount int64) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	}
	if err := normalizeAsset(s.cfg, &asset); err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.Credit(ctx, userID, asset, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "wallet_topup",
		EntityType:  "wallet",
		EntityID:    walletEntityID(userID),
		Meta:        map[string]any{"asset_kind": asset.Kind, "amount": amount},
	})

	s.log.Info("wallet topped up",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
	)

	return wallet, nil
}

func (s *WalletService) Withdraw(ctx context.Context, userID uuid.UUID, asset models.Asset, amount int64) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	}
	if err := normalizeAsset(s.cfg, &asset); err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.Debit(ctx, userID, asset, amount)
	if err != nil {
		return nil, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &userID,
		ActorType:   "user",
		Action:      "wallet_withdrawal",
		EntityType:  "wallet",
		EntityID:    walletEntityID(userID),
		Meta:        map[string]any{"asset_kind": asset.Kind, "amount": amount},
	})

	s.log.Info("wallet withdrawal",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", amount),
	)

	return wallet, nil
}

func (s *WalletService) Balances(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	return s.walletRepo.ListByUser(ctx, userID)
}

func (s *WalletService) Transfers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CustodyTransfer, error) {
	return s.ledger.ListTransfersByUser(ctx, userID, limit, offset)
}

func walletEntityID(userID uuid.UUID) *string {
	s := userID.String()
	return &s
}

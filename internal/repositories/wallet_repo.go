package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Credit adds funds to a wallet, creating it on first use.
func (r *WalletRepo) Credit(ctx context.Context, userID uuid.UUID, asset models.Asset, amount int64) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		INSERT INTO wallets (user_id, asset_kind, asset_address, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, asset_kind, asset_address) DO UPDATE SET
			balance = wallets.balance + EXCLUDED.balance,
			updated_at = now()
		RETURNING user_id, asset_kind, asset_address, balance, updated_at
	`, userID, asset.Kind, asset.Address, amount).Scan(&w.UserID, &w.Asset.Kind, &w.Asset.Address, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit removes funds from a wallet; the guard keeps balances
// non-negative.
func (r *WalletRepo) Debit(ctx context.Context, userID uuid.UUID, asset models.Asset, amount int64) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = now()
		WHERE user_id = $2 AND asset_kind = $3 AND asset_address = $4 AND balance >= $1
		RETURNING user_id, asset_kind, asset_address, balance, updated_at
	`, amount, userID, asset.Kind, asset.Address).Scan(&w.UserID, &w.Asset.Kind, &w.Asset.Address, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, custody.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Get returns the wallet for one asset, zero-balance if it was never
// touched.
func (r *WalletRepo) Get(ctx context.Context, userID uuid.UUID, asset models.Asset) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, asset_kind, asset_address, balance, updated_at
		FROM wallets WHERE user_id = $1 AND asset_kind = $2 AND asset_address = $3
	`, userID, asset.Kind, asset.Address).Scan(&w.UserID, &w.Asset.Kind, &w.Asset.Address, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{UserID: userID, Asset: asset}, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, asset_kind, asset_address, balance, updated_at
		FROM wallets WHERE user_id = $1
		ORDER BY asset_kind, asset_address
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		var w models.Wallet
		if err := rows.Scan(&w.UserID, &w.Asset.Kind, &w.Asset.Address, &w.Balance, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

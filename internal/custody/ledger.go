package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milestone-escrow/backend/internal/models"
)

// LedgerAdapter implements Adapter on top of the wallets,
// escrow_accounts and custody_transfers tables.
type LedgerAdapter struct {
	pool *pgxpool.Pool
}

func NewLedgerAdapter(pool *pgxpool.Pool) *LedgerAdapter {
	return &LedgerAdapter{pool: pool}
}

func (l *LedgerAdapter) Transfer(ctx context.Context, tx pgx.Tx, t Transfer) error {
	if t.Amount < 0 {
		return fmt.Errorf("%w: negative transfer amount %d", models.ErrInvalidInput, t.Amount)
	}
	if t.Amount == 0 {
		return nil
	}

	switch t.Direction {
	case models.TransferDirectionHold:
		if t.From == uuid.Nil {
			return fmt.Errorf("%w: hold transfer without source user", models.ErrInvalidInput)
		}
		if err := l.debitWallet(ctx, tx, t.From, t.Asset, t.Amount); err != nil {
			return err
		}
		if err := l.creditEscrow(ctx, tx, t.AgreementID, t.Asset, t.Amount); err != nil {
			return err
		}
	case models.TransferDirectionRelease, models.TransferDirectionRefund, models.TransferDirectionFee:
		if t.To == uuid.Nil {
			return fmt.Errorf("%w: %s transfer without destination user", models.ErrInvalidInput, t.Direction)
		}
		if err := l.debitEscrow(ctx, tx, t.AgreementID, t.Amount); err != nil {
			return err
		}
		if err := l.creditWallet(ctx, tx, t.To, t.Asset, t.Amount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown transfer direction %q", models.ErrInvalidInput, t.Direction)
	}

	return l.record(ctx, tx, t)
}

func (l *LedgerAdapter) EscrowBalance(ctx context.Context, tx pgx.Tx, agreementID int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT balance FROM escrow_accounts WHERE agreement_id = $1
	`, agreementID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *LedgerAdapter) debitWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset models.Asset, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $1, updated_at = now()
		WHERE user_id = $2 AND asset_kind = $3 AND asset_address = $4 AND balance >= $1
	`, amount, userID, asset.Kind, asset.Address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit wallet of %s: %w", userID, ErrInsufficientFunds)
	}
	return nil
}

func (l *LedgerAdapter) creditWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset models.Asset, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, asset_kind, asset_address, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, asset_kind, asset_address) DO UPDATE SET
			balance = wallets.balance + EXCLUDED.balance,
			updated_at = now()
	`, userID, asset.Kind, asset.Address, amount)
	return err
}

func (l *LedgerAdapter) creditEscrow(ctx context.Context, tx pgx.Tx, agreementID int64, asset models.Asset, amount int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO escrow_accounts (agreement_id, asset_kind, asset_address, balance)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agreement_id) DO UPDATE SET
			balance = escrow_accounts.balance + EXCLUDED.balance,
			updated_at = now()
	`, agreementID, asset.Kind, asset.Address, amount)
	return err
}

func (l *LedgerAdapter) debitEscrow(ctx context.Context, tx pgx.Tx, agreementID int64, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_accounts
		SET balance = balance - $1, updated_at = now()
		WHERE agreement_id = $2 AND balance >= $1
	`, amount, agreementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debit escrow of agreement %d: %w", agreementID, ErrInsufficientFunds)
	}
	return nil
}

func (l *LedgerAdapter) record(ctx context.Context, tx pgx.Tx, t Transfer) error {
	var from, to *uuid.UUID
	if t.From != uuid.Nil {
		from = &t.From
	}
	if t.To != uuid.Nil {
		to = &t.To
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO custody_transfers (agreement_id, milestone_idx, direction, from_user_id, to_user_id, asset_kind, asset_address, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.AgreementID, t.MilestoneIdx, t.Direction, from, to, t.Asset.Kind, t.Asset.Address, t.Amount)
	return err
}

// ListTransfersByUser returns ledger rows where the user is either side,
// newest first.
func (l *LedgerAdapter) ListTransfersByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CustodyTransfer, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, agreement_id, milestone_idx, direction, from_user_id, to_user_id, asset_kind, asset_address, amount, created_at
		FROM custody_transfers
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransfers(rows)
}

// ListTransfersByAgreement returns the agreement's full ledger in
// insertion order.
func (l *LedgerAdapter) ListTransfersByAgreement(ctx context.Context, agreementID int64) ([]models.CustodyTransfer, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, agreement_id, milestone_idx, direction, from_user_id, to_user_id, asset_kind, asset_address, amount, created_at
		FROM custody_transfers
		WHERE agreement_id = $1
		ORDER BY id
	`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func scanTransfers(rows pgx.Rows) ([]models.CustodyTransfer, error) {
	var out []models.CustodyTransfer
	for rows.Next() {
		var t models.CustodyTransfer
		if err := rows.Scan(&t.ID, &t.AgreementID, &t.MilestoneIdx, &t.Direction, &t.FromUserID, &t.ToUserID,
			&t.Asset.Kind, &t.Asset.Address, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Drift is an escrow account whose balance disagrees with the fold of
// its ledger rows. Any row here means a bug or manual tampering.
type Drift struct {
	AgreementID int64 `json:"agreement_id"`
	Balance     int64 `json:"balance"`
	Expected    int64 `json:"expected"`
}

// FindDrift recomputes every escrow balance from the ledger and returns
// the accounts that do not match.
func (l *LedgerAdapter) FindDrift(ctx context.Context) ([]Drift, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT e.agreement_id, e.balance,
		       COALESCE(SUM(CASE WHEN t.direction = 'hold' THEN t.amount ELSE -t.amount END), 0) AS expected
		FROM escrow_accounts e
		LEFT JOIN custody_transfers t ON t.agreement_id = e.agreement_id
		GROUP BY e.agreement_id, e.balance
		HAVING e.balance <> COALESCE(SUM(CASE WHEN t.direction = 'hold' THEN t.amount ELSE -t.amount END), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.AgreementID, &d.Balance, &d.Expected); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

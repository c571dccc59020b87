package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milestone-escrow/backend/internal/models"
)

type AgreementRepo struct {
	pool *pgxpool.Pool
}

func NewAgreementRepo(pool *pgxpool.Pool) *AgreementRepo {
	return &AgreementRepo{pool: pool}
}

func (r *AgreementRepo) Create(ctx context.Context, tx pgx.Tx, a *models.Agreement) error {
	return tx.QueryRow(ctx, `
		INSERT INTO agreements (payer_id, payee_id, status, title, description, asset_kind, asset_address,
		                        total_amount, platform_fee_bps, platform_fee, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, a.PayerID, a.PayeeID, a.Status, a.Title, a.Description, a.Asset.Kind, a.Asset.Address,
		a.TotalAmount, a.PlatformFeeBPS, a.PlatformFee, a.Deadline,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetForUpdate locks the agreement row for the rest of the transaction.
// Every mutating operation goes through this lock, which serializes
// concurrent writes per agreement.
func (r *AgreementRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Agreement, error) {
	var a models.Agreement
	err := tx.QueryRow(ctx, `
		SELECT id, payer_id, payee_id, status, title, description, asset_kind, asset_address,
		       total_amount, platform_fee_bps, platform_fee, deadline, payer_rating, payee_rating,
		       created_at, updated_at, funded_at, closed_at
		FROM agreements WHERE id = $1
		FOR UPDATE
	`, id).Scan(&a.ID, &a.PayerID, &a.PayeeID, &a.Status, &a.Title, &a.Description, &a.Asset.Kind, &a.Asset.Address,
		&a.TotalAmount, &a.PlatformFeeBPS, &a.PlatformFee, &a.Deadline, &a.PayerRating, &a.PayeeRating,
		&a.CreatedAt, &a.UpdatedAt, &a.FundedAt, &a.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agreement %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgreementRepo) GetByID(ctx context.Context, id int64) (*models.Agreement, error) {
	var a models.Agreement
	err := r.pool.QueryRow(ctx, `
		SELECT id, payer_id, payee_id, status, title, description, asset_kind, asset_address,
		       total_amount, platform_fee_bps, platform_fee, deadline, payer_rating, payee_rating,
		       created_at, updated_at, funded_at, closed_at
		FROM agreements WHERE id = $1
	`, id).Scan(&a.ID, &a.PayerID, &a.PayeeID, &a.Status, &a.Title, &a.Description, &a.Asset.Kind, &a.Asset.Address,
		&a.TotalAmount, &a.PlatformFeeBPS, &a.PlatformFee, &a.Deadline, &a.PayerRating, &a.PayeeRating,
		&a.CreatedAt, &a.UpdatedAt, &a.FundedAt, &a.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agreement %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Update persists every mutable column from the struct.
func (r *AgreementRepo) Update(ctx context.Context, tx pgx.Tx, a *models.Agreement) error {
	_, err := tx.Exec(ctx, `
		UPDATE agreements
		SET status = $1, total_amount = $2, platform_fee = $3, payer_rating = $4, payee_rating = $5,
		    funded_at = $6, closed_at = $7, updated_at = now()
		WHERE id = $8
	`, a.Status, a.TotalAmount, a.PlatformFee, a.PayerRating, a.PayeeRating, a.FundedAt, a.ClosedAt, a.ID)
	return err
}

type AgreementFilter struct {
	PartyID *uuid.UUID // matches payer or payee
	Role    *string    // "payer" or "payee", narrows PartyID
	Status  *string
	Limit   int
	Offset  int
}

func (r *AgreementRepo) List(ctx context.Context, f AgreementFilter) ([]models.Agreement, error) {
	query := `
		SELECT id, payer_id, payee_id, status, title, description, asset_kind, asset_address,
		       total_amount, platform_fee_bps, platform_fee, deadline, payer_rating, payee_rating,
		       created_at, updated_at, funded_at, closed_at
		FROM agreements
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.PartyID != nil {
		role := ""
		if f.Role != nil {
			role = *f.Role
		}
		switch role {
		case "payer":
			where = append(where, fmt.Sprintf("payer_id = $%d", argIdx))
		case "payee":
			where = append(where, fmt.Sprintf("payee_id = $%d", argIdx))
		default:
			where = append(where, fmt.Sprintf("(payer_id = $%d OR payee_id = $%d)", argIdx, argIdx))
		}
		args = append(args, *f.PartyID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agreements []models.Agreement
	for rows.Next() {
		var a models.Agreement
		if err := rows.Scan(&a.ID, &a.PayerID, &a.PayeeID, &a.Status, &a.Title, &a.Description, &a.Asset.Kind, &a.Asset.Address,
			&a.TotalAmount, &a.PlatformFeeBPS, &a.PlatformFee, &a.Deadline, &a.PayerRating, &a.PayeeRating,
			&a.CreatedAt, &a.UpdatedAt, &a.FundedAt, &a.ClosedAt); err != nil {
			return nil, err
		}
		agreements = append(agreements, a)
	}
	return agreements, rows.Err()
}

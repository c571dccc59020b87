package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milestone-escrow/backend/internal/models"
)

type ReputationRepo struct {
	pool *pgxpool.Pool
}

func NewReputationRepo(pool *pgxpool.Pool) *ReputationRepo {
	return &ReputationRepo{pool: pool}
}

// Get returns the user's reputation, or the zero reputation if the user
// has never completed an agreement.
func (r *ReputationRepo) Get(ctx context.Context, userID uuid.UUID) (*models.Reputation, error) {
	var rep models.Reputation
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, score, completed_jobs, updated_at
		FROM reputations WHERE user_id = $1
	`, userID).Scan(&rep.UserID, &rep.Score, &rep.CompletedJobs, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Reputation{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// GetForUpdate locks the reputation row for a read-modify-write. Missing
// rows come back as the zero reputation; the following upsert creates them.
func (r *ReputationRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Reputation, error) {
	var rep models.Reputation
	err := tx.QueryRow(ctx, `
		SELECT user_id, score, completed_jobs, updated_at
		FROM reputations WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&rep.UserID, &rep.Score, &rep.CompletedJobs, &rep.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Reputation{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *ReputationRepo) IncrementCompletedJobs(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reputations (user_id, score, completed_jobs)
		VALUES ($1, 0, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			completed_jobs = reputations.completed_jobs + 1,
			updated_at = now()
	`, userID)
	return err
}

func (r *ReputationRepo) UpdateScore(ctx context.Context, tx pgx.Tx, userID uuid.UUID, score int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reputations (user_id, score, completed_jobs)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			updated_at = now()
	`, userID, score)
	return err
}

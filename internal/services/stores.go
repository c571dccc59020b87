package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AgreementStore is the agreement persistence the services depend on.
// Methods taking a pgx.Tx run inside the caller's transaction.
type AgreementStore interface {
	Create(ctx context.Context, tx pgx.Tx, a *models.Agreement) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Agreement, error)
	Update(ctx context.Context, tx pgx.Tx, a *models.Agreement) error
	GetByID(ctx context.Context, id int64) (*models.Agreement, error)
	List(ctx context.Context, f repositories.AgreementFilter) ([]models.Agreement, error)
}

type MilestoneStore interface {
	Append(ctx context.Context, tx pgx.Tx, m *models.Milestone) error
	List(ctx context.Context, tx pgx.Tx, agreementID int64) ([]models.Milestone, error)
	Update(ctx context.Context, tx pgx.Tx, m *models.Milestone) error
	Get(ctx context.Context, agreementID int64, idx int) (*models.Milestone, error)
	ListByAgreement(ctx context.Context, agreementID int64) ([]models.Milestone, error)
}

type ReputationStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Reputation, error)
	IncrementCompletedJobs(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
	UpdateScore(ctx context.Context, tx pgx.Tx, userID uuid.UUID, score int) error
}

type UserStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// AuditStore records and reads the audit trail. Writes are best-effort:
// services ignore Log errors rather than failing the operation.
type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error)
}

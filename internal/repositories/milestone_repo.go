package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milestone-escrow/backend/internal/models"
)

type MilestoneRepo struct {
	pool *pgxpool.Pool
}

func NewMilestoneRepo(pool *pgxpool.Pool) *MilestoneRepo {
	return &MilestoneRepo{pool: pool}
}

// milestoneColumns is shared by every select; scanMilestone must stay in
// sync with it.
const milestoneColumns = `
	agreement_id, idx, status, title, description, amount, deadline,
	payee_note, payer_feedback, revision_count,
	dispute_opened_by, dispute_outcome, dispute_payer_reason, dispute_payee_response,
	dispute_resolution_notes, dispute_payer_amount, dispute_payee_amount,
	dispute_opened_at, dispute_resolved_at,
	started_at, submitted_at, completed_at, created_at, updated_at`

func scanMilestone(row pgx.Row) (*models.Milestone, error) {
	var m models.Milestone
	var (
		openedBy        *string
		outcome         *string
		payerReason     *string
		payeeResponse   *string
		resolutionNotes *string
		payerAmount     *int64
		payeeAmount     *int64
		openedAt        *time.Time
		resolvedAt      *time.Time
	)
	err := row.Scan(&m.AgreementID, &m.Idx, &m.Status, &m.Title, &m.Description, &m.Amount, &m.Deadline,
		&m.PayeeNote, &m.PayerFeedback, &m.RevisionCount,
		&openedBy, &outcome, &payerReason, &payeeResponse,
		&resolutionNotes, &payerAmount, &payeeAmount,
		&openedAt, &resolvedAt,
		&m.StartedAt, &m.SubmittedAt, &m.CompletedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if openedAt != nil {
		d := &models.Dispute{
			OpenedAt:      *openedAt,
			Outcome:       models.DisputeOutcomeNone,
			PayerReason:   payerReason,
			PayeeResponse: payeeResponse,
			ResolvedAt:    resolvedAt,
		}
		if openedBy != nil {
			d.OpenedBy = *openedBy
		}
		if outcome != nil {
			d.Outcome = *outcome
		}
		d.ResolutionNotes = resolutionNotes
		if payerAmount != nil {
			d.PayerAmount = *payerAmount
		}
		if payeeAmount != nil {
			d.PayeeAmount = *payeeAmount
		}
		m.Dispute = d
	}
	return &m, nil
}

func (r *MilestoneRepo) Append(ctx context.Context, tx pgx.Tx, m *models.Milestone) error {
	return tx.QueryRow(ctx, `
		INSERT INTO milestones (agreement_id, idx, status, title, description, amount, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, m.AgreementID, m.Idx, m.Status, m.Title, m.Description, m.Amount, m.Deadline,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

// List reads all milestones of an agreement inside the caller's
// transaction, ordered by idx. Call after locking the agreement row.
func (r *MilestoneRepo) List(ctx context.Context, tx pgx.Tx, agreementID int64) ([]models.Milestone, error) {
	rows, err := tx.Query(ctx, `SELECT`+milestoneColumns+` FROM milestones WHERE agreement_id = $1 ORDER BY idx`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

// Update persists every mutable column, including the dispute block.
func (r *MilestoneRepo) Update(ctx context.Context, tx pgx.Tx, m *models.Milestone) error {
	var (
		openedBy        *string
		outcome         *string
		payerReason     *string
		payeeResponse   *string
		resolutionNotes *string
		payerAmount     *int64
		payeeAmount     *int64
		openedAt        *time.Time
		resolvedAt      *time.Time
	)
	if d := m.Dispute; d != nil {
		openedBy = &d.OpenedBy
		outcome = &d.Outcome
		payerReason = d.PayerReason
		payeeResponse = d.PayeeResponse
		resolutionNotes = d.ResolutionNotes
		payerAmount = &d.PayerAmount
		payeeAmount = &d.PayeeAmount
		openedAt = &d.OpenedAt
		resolvedAt = d.ResolvedAt
	}
	_, err := tx.Exec(ctx, `
		UPDATE milestones
		SET status = $1, payee_note = $2, payer_feedback = $3, revision_count = $4,
		    dispute_opened_by = $5, dispute_outcome = $6, dispute_payer_reason = $7, dispute_payee_response = $8,
		    dispute_resolution_notes = $9, dispute_payer_amount = $10, dispute_payee_amount = $11,
		    dispute_opened_at = $12, dispute_resolved_at = $13,
		    started_at = $14, submitted_at = $15, completed_at = $16, updated_at = now()
		WHERE agreement_id = $17 AND idx = $18
	`, m.Status, m.PayeeNote, m.PayerFeedback, m.RevisionCount,
		openedBy, outcome, payerReason, payeeResponse,
		resolutionNotes, payerAmount, payeeAmount,
		openedAt, resolvedAt,
		m.StartedAt, m.SubmittedAt, m.CompletedAt,
		m.AgreementID, m.Idx)
	return err
}

func (r *MilestoneRepo) Get(ctx context.Context, agreementID int64, idx int) (*models.Milestone, error) {
	m, err := scanMilestone(r.pool.QueryRow(ctx,
		`SELECT`+milestoneColumns+` FROM milestones WHERE agreement_id = $1 AND idx = $2`, agreementID, idx))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("milestone %d of agreement %d: %w", idx, agreementID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MilestoneRepo) ListByAgreement(ctx context.Context, agreementID int64) ([]models.Milestone, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+milestoneColumns+` FROM milestones WHERE agreement_id = $1 ORDER BY idx`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMilestones(rows)
}

func collectMilestones(rows pgx.Rows) ([]models.Milestone, error) {
	var out []models.Milestone
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MilestoneDeadline is a worker-facing projection of a milestone whose
// deadline needs attention, with the agreement parties attached.
type MilestoneDeadline struct {
	AgreementID int64     `json:"agreement_id"`
	Idx         int       `json:"idx"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Deadline    time.Time `json:"deadline"`
	PayerID     uuid.UUID `json:"payer_id"`
	PayeeID     uuid.UUID `json:"payee_id"`
}

// ListOverdue returns active milestones whose deadline already passed on
// live agreements.
func (r *MilestoneRepo) ListOverdue(ctx context.Context, now time.Time) ([]MilestoneDeadline, error) {
	return r.listDeadlines(ctx, `
		SELECT m.agreement_id, m.idx, m.title, m.status, m.deadline, a.payer_id, a.payee_id
		FROM milestones m
		JOIN agreements a ON a.id = m.agreement_id
		WHERE m.deadline IS NOT NULL AND m.deadline < $1
		  AND m.status IN ('not_started', 'in_progress', 'review_requested')
		  AND a.status IN ('funded', 'in_progress')
		ORDER BY m.deadline
	`, now)
}

// ListDeadlineSoon returns active milestones whose deadline falls inside
// the window starting at now.
func (r *MilestoneRepo) ListDeadlineSoon(ctx context.Context, now time.Time, window time.Duration) ([]MilestoneDeadline, error) {
	return r.listDeadlines(ctx, `
		SELECT m.agreement_id, m.idx, m.title, m.status, m.deadline, a.payer_id, a.payee_id
		FROM milestones m
		JOIN agreements a ON a.id = m.agreement_id
		WHERE m.deadline IS NOT NULL AND m.deadline >= $1 AND m.deadline < $2
		  AND m.status IN ('not_started', 'in_progress', 'review_requested')
		  AND a.status IN ('funded', 'in_progress')
		ORDER BY m.deadline
	`, now, now.Add(window))
}

func (r *MilestoneRepo) listDeadlines(ctx context.Context, query string, args ...any) ([]MilestoneDeadline, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MilestoneDeadline
	for rows.Next() {
		var d MilestoneDeadline
		if err := rows.Scan(&d.AgreementID, &d.Idx, &d.Title, &d.Status, &d.Deadline, &d.PayerID, &d.PayeeID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

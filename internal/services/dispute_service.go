package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/rbac"
	"go.uber.org/zap"
)

// DisputeService layers the dispute sub-state-machine on top of
// milestones. Resolution reuses the milestone engine for payouts and
// settlement so both paths move money identically.
type DisputeService struct {
	pool       TxBeginner
	agreements AgreementStore
	milestones MilestoneStore
	engine     *MilestoneService
	auditRepo  AuditStore
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewDisputeService(
	pool TxBeginner,
	agreements AgreementStore,
	milestones MilestoneStore,
	engine *MilestoneService,
	auditRepo AuditStore,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *DisputeService {
	return &DisputeService{
		pool:       pool,
		agreements: agreements,
		milestones: milestones,
		engine:     engine,
		auditRepo:  auditRepo,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

// Raise opens a dispute on a milestone and freezes the agreement in
// in_dispute until an arbitrator resolves it.
func (s *DisputeService) Raise(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID, reason string) (*models.Milestone, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: a dispute needs a reason", models.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if !agreement.IsParty(callerID) {
		return nil, fmt.Errorf("%w: only the payer or payee can raise a dispute", models.ErrForbidden)
	}
	switch agreement.Status {
	case models.AgreementStatusFunded, models.AgreementStatusInProgress, models.AgreementStatusInDispute:
	default:
		return nil, fmt.Errorf("%w: agreement is %s", models.ErrInvalidStatus, agreement.Status)
	}

	milestones, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	milestone := findMilestone(milestones, idx)
	if milestone == nil {
		return nil, fmt.Errorf("milestone %d/%d: %w", agreementID, idx, models.ErrNotFound)
	}
	if milestone.Dispute != nil {
		return nil, fmt.Errorf("%w: milestone %d is already disputed", models.ErrInvalidStatus, idx)
	}

	n := &notifier{}
	if err := transitionMilestone(agreement, milestone, models.MilestoneStatusDisputed, &callerID, "user", n); err != nil {
		return nil, err
	}

	openedBy := rbac.Resolve(agreement, callerID, false)
	dispute := &models.Dispute{
		OpenedBy: openedBy,
		Outcome:  models.DisputeOutcomeNone,
		OpenedAt: time.Now(),
	}
	if openedBy == rbac.RolePayer {
		dispute.PayerReason = &reason
	} else {
		dispute.PayeeResponse = &reason
	}
	milestone.Dispute = dispute

	// A second dispute can arrive while the agreement is already frozen.
	if agreement.Status != models.AgreementStatusInDispute {
		if err := transitionAgreement(agreement, models.AgreementStatusInDispute, &callerID, "user", n); err != nil {
			return nil, err
		}
	}

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}
	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}

	n.event(events.EventDisputeRaised, map[string]any{
		"agreement_id": agreement.ID,
		"idx":          milestone.Idx,
		"opened_by":    openedBy,
		"payer_id":     agreement.PayerID.String(),
		"payee_id":     agreement.PayeeID.String(),
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

// Respond records the counterparty's statement on an open dispute. Each
// side gets exactly one statement.
func (s *DisputeService) Respond(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID, response string) (*models.Milestone, error) {
	if strings.TrimSpace(response) == "" {
		return nil, fmt.Errorf("%w: a response cannot be empty", models.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if !agreement.IsParty(callerID) {
		return nil, fmt.Errorf("%w: only the payer or payee can respond", models.ErrForbidden)
	}

	milestones, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	milestone := findMilestone(milestones, idx)
	if milestone == nil {
		return nil, fmt.Errorf("milestone %d/%d: %w", agreementID, idx, models.ErrNotFound)
	}
	dispute := milestone.Dispute
	if dispute == nil {
		return nil, fmt.Errorf("%w: milestone %d has no dispute", models.ErrInvalidStatus, idx)
	}
	if dispute.Resolved() {
		return nil, fmt.Errorf("%w: dispute on milestone %d is already resolved", models.ErrInvalidStatus, idx)
	}

	if callerID == agreement.PayerID {
		if dispute.PayerReason != nil {
			return nil, fmt.Errorf("%w: payer statement already recorded", models.ErrInvalidStatus)
		}
		dispute.PayerReason = &response
	} else {
		if dispute.PayeeResponse != nil {
			return nil, fmt.Errorf("%w: payee statement already recorded", models.ErrInvalidStatus)
		}
		dispute.PayeeResponse = &response
	}

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "dispute_response_recorded",
		EntityType:  "milestone",
		EntityID:    milestoneEntityID(agreement.ID, milestone.Idx),
		Meta:        map[string]any{"idx": milestone.Idx},
	})

	return milestone, nil
}

type ResolveDisputeInput struct {
	Outcome     string
	PayerAmount int64
	PayeeAmount int64
	Notes       *string
}

// Resolve settles a dispute with one of three outcomes. payer_wins
// refunds the milestone to the payer and cancels it; payee_wins pays the
// payee in full and completes it; compromise splits the amount exactly.
// The dispute record is immutable afterwards.
func (s *DisputeService) Resolve(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID, in ResolveDisputeInput) (*models.Milestone, error) {
	if !s.cfg.IsArbitrator(callerID) {
		return nil, fmt.Errorf("%w: caller is not an approved arbitrator", models.ErrForbidden)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status != models.AgreementStatusInDispute {
		return nil, fmt.Errorf("%w: agreement is %s", models.ErrInvalidStatus, agreement.Status)
	}

	milestones, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	milestone := findMilestone(milestones, idx)
	if milestone == nil {
		return nil, fmt.Errorf("milestone %d/%d: %w", agreementID, idx, models.ErrNotFound)
	}
	dispute := milestone.Dispute
	if dispute == nil {
		return nil, fmt.Errorf("%w: milestone %d has no dispute", models.ErrInvalidStatus, idx)
	}
	if dispute.Resolved() {
		return nil, fmt.Errorf("%w: dispute on milestone %d is already resolved", models.ErrInvalidStatus, idx)
	}

	var payerAmount, payeeAmount int64
	switch in.Outcome {
	case models.DisputeOutcomePayerWins:
		payerAmount, payeeAmount = milestone.Amount, 0
	case models.DisputeOutcomePayeeWins:
		payerAmount, payeeAmount = 0, milestone.Amount
	case models.DisputeOutcomeCompromise:
		if in.PayerAmount < 0 || in.PayeeAmount < 0 || in.PayerAmount+in.PayeeAmount != milestone.Amount {
			return nil, fmt.Errorf("%w: compromise split must sum to the milestone amount %d", models.ErrInvalidInput, milestone.Amount)
		}
		payerAmount, payeeAmount = in.PayerAmount, in.PayeeAmount
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", models.ErrInvalidInput, in.Outcome)
	}

	n := &notifier{}
	if in.Outcome == models.DisputeOutcomePayerWins {
		if err := s.engine.payMilestone(ctx, tx, agreement, milestone, payerAmount, payeeAmount, n); err != nil {
			return nil, err
		}
		if err := transitionMilestone(agreement, milestone, models.MilestoneStatusCancelled, &callerID, "arbitrator", n); err != nil {
			return nil, err
		}
	} else {
		if err := s.engine.completeMilestone(ctx, tx, agreement, milestone, payerAmount, payeeAmount, &callerID, "arbitrator", n); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	dispute.Outcome = in.Outcome
	dispute.PayerAmount = payerAmount
	dispute.PayeeAmount = payeeAmount
	dispute.ResolutionNotes = in.Notes
	dispute.ResolvedAt = &now

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}

	open := false
	allTerminal := true
	for i := range milestones {
		if d := milestones[i].Dispute; d != nil && !d.Resolved() {
			open = true
		}
		if !milestones[i].Terminal() {
			allTerminal = false
		}
	}
	// When this was the last milestone, settleAgreement completes the
	// agreement straight from in_dispute; the in_progress hop is only
	// for agreements with work left to do.
	if !open && !allTerminal {
		if err := transitionAgreement(agreement, models.AgreementStatusInProgress, &callerID, "arbitrator", n); err != nil {
			return nil, err
		}
	}

	if err := s.engine.settleAgreement(ctx, tx, agreement, milestones, n); err != nil {
		return nil, err
	}
	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}

	n.event(events.EventDisputeResolved, map[string]any{
		"agreement_id": agreement.ID,
		"idx":          milestone.Idx,
		"outcome":      in.Outcome,
		"payer_amount": payerAmount,
		"payee_amount": payeeAmount,
		"payer_id":     agreement.PayerID.String(),
		"payee_id":     agreement.PayeeID.String(),
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
	"go.uber.org/zap"
)

type MilestoneService struct {
	pool        TxBeginner
	agreements  AgreementStore
	milestones  MilestoneStore
	reputations ReputationStore
	custody     custody.Adapter
	auditRepo   AuditStore
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewMilestoneService(
	pool TxBeginner,
	agreements AgreementStore,
	milestones MilestoneStore,
	reputations ReputationStore,
	custodyAdapter custody.Adapter,
	auditRepo AuditStore,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *MilestoneService {
	return &MilestoneService{
		pool:        pool,
		agreements:  agreements,
		milestones:  milestones,
		reputations: reputations,
		custody:     custodyAdapter,
		auditRepo:   auditRepo,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// Start puts a milestone in progress. The first started milestone also
// moves the agreement from funded to in_progress.
func (s *MilestoneService) Start(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID) (*models.Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.PayeeID != callerID {
		return nil, fmt.Errorf("%w: only the payee can start a milestone", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusFunded && agreement.Status != models.AgreementStatusInProgress {
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

	now := time.Now()
	if milestone.Deadline != nil && !now.Before(*milestone.Deadline) {
		return nil, fmt.Errorf("%w: milestone %d deadline has passed", models.ErrDeadlinePassed, idx)
	}

	n := &notifier{}
	if err := transitionMilestone(agreement, milestone, models.MilestoneStatusInProgress, &callerID, "user", n); err != nil {
		return nil, err
	}
	milestone.StartedAt = &now

	if agreement.Status == models.AgreementStatusFunded {
		if err := transitionAgreement(agreement, models.AgreementStatusInProgress, &callerID, "user", n); err != nil {
			return nil, err
		}
		if err := s.agreements.Update(ctx, tx, agreement); err != nil {
			return nil, err
		}
	}

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

// SubmitForReview marks the milestone's work as delivered and hands it
// to the payer for review.
func (s *MilestoneService) SubmitForReview(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID, note *string) (*models.Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.PayeeID != callerID {
		return nil, fmt.Errorf("%w: only the payee can submit for review", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusInProgress {
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

	n := &notifier{}
	if err := transitionMilestone(agreement, milestone, models.MilestoneStatusReviewRequested, &callerID, "user", n); err != nil {
		return nil, err
	}
	if milestone.SubmittedAt == nil {
		now := time.Now()
		milestone.SubmittedAt = &now
	}
	if note != nil {
		milestone.PayeeNote = note
	}

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

// RequestRevision sends a submitted milestone back to the payee.
func (s *MilestoneService) RequestRevision(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID, feedback *string) (*models.Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.PayerID != callerID {
		return nil, fmt.Errorf("%w: only the payer can request a revision", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusInProgress {
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
	if milestone.Status != models.MilestoneStatusReviewRequested {
		return nil, fmt.Errorf("%w: milestone %d is %s", models.ErrInvalidStatus, idx, milestone.Status)
	}

	n := &notifier{}
	if err := transitionMilestone(agreement, milestone, models.MilestoneStatusInProgress, &callerID, "user", n); err != nil {
		return nil, err
	}
	milestone.RevisionCount++
	if feedback != nil {
		milestone.PayerFeedback = feedback
	}

	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

// Approve accepts a submitted milestone and releases its funds to the
// payee. The last milestone to complete also settles the agreement.
func (s *MilestoneService) Approve(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID) (*models.Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	agreement, err := s.agreements.GetForUpdate(ctx, tx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.PayerID != callerID {
		return nil, fmt.Errorf("%w: only the payer can approve a milestone", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusInProgress {
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
	if milestone.Status != models.MilestoneStatusReviewRequested {
		return nil, fmt.Errorf("%w: milestone %d is %s", models.ErrInvalidStatus, idx, milestone.Status)
	}

	n := &notifier{}
	if err := transitionMilestone(agreement, milestone, models.MilestoneStatusApproved, &callerID, "user", n); err != nil {
		return nil, err
	}
	if err := s.completeMilestone(ctx, tx, agreement, milestone, 0, milestone.Amount, &callerID, "user", n); err != nil {
		return nil, err
	}
	if err := s.milestones.Update(ctx, tx, milestone); err != nil {
		return nil, err
	}

	if err := s.settleAgreement(ctx, tx, agreement, milestones, n); err != nil {
		return nil, err
	}
	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return milestone, nil
}

// payMilestone moves a milestone's escrowed amount out: the payer share
// as a refund, the payee share as a release. Zero legs are skipped.
func (s *MilestoneService) payMilestone(ctx context.Context, tx pgx.Tx, a *models.Agreement, m *models.Milestone, payerAmount, payeeAmount int64, n *notifier) error {
	if payerAmount > 0 {
		if err := s.custody.Transfer(ctx, tx, custody.Transfer{
			AgreementID:  a.ID,
			MilestoneIdx: &m.Idx,
			Direction:    models.TransferDirectionRefund,
			To:           a.PayerID,
			Asset:        a.Asset,
			Amount:       payerAmount,
		}); err != nil {
			return err
		}
		n.event(events.EventFundsTransferred, map[string]any{
			"agreement_id": a.ID,
			"idx":          m.Idx,
			"direction":    models.TransferDirectionRefund,
			"to":           a.PayerID.String(),
			"amount":       payerAmount,
			"payer_id":     a.PayerID.String(),
			"payee_id":     a.PayeeID.String(),
		})
	}
	if payeeAmount > 0 {
		if err := s.custody.Transfer(ctx, tx, custody.Transfer{
			AgreementID:  a.ID,
			MilestoneIdx: &m.Idx,
			Direction:    models.TransferDirectionRelease,
			To:           a.PayeeID,
			Asset:        a.Asset,
			Amount:       payeeAmount,
		}); err != nil {
			return err
		}
		n.event(events.EventFundsTransferred, map[string]any{
			"agreement_id": a.ID,
			"idx":          m.Idx,
			"direction":    models.TransferDirectionRelease,
			"to":           a.PayeeID.String(),
			"amount":       payeeAmount,
			"payer_id":     a.PayerID.String(),
			"payee_id":     a.PayeeID.String(),
		})
	}
	return nil
}

// completeMilestone pays the split out and moves the milestone to
// completed with its completion time stamped.
func (s *MilestoneService) completeMilestone(ctx context.Context, tx pgx.Tx, a *models.Agreement, m *models.Milestone, payerAmount, payeeAmount int64, actorID *uuid.UUID, actorType string, n *notifier) error {
	if err := s.payMilestone(ctx, tx, a, m, payerAmount, payeeAmount, n); err != nil {
		return err
	}
	if err := transitionMilestone(a, m, models.MilestoneStatusCompleted, actorID, actorType, n); err != nil {
		return err
	}
	now := time.Now()
	m.CompletedAt = &now
	return nil
}

// settleAgreement completes the agreement once every milestone reached a
// terminal state: sweeps the platform fee, stamps the close time and
// credits both parties a completed job. The caller persists the
// agreement row.
func (s *MilestoneService) settleAgreement(ctx context.Context, tx pgx.Tx, a *models.Agreement, milestones []models.Milestone, n *notifier) error {
	for i := range milestones {
		if !milestones[i].Terminal() {
			return nil
		}
	}

	if err := transitionAgreement(a, models.AgreementStatusCompleted, nil, "system", n); err != nil {
		return err
	}
	now := time.Now()
	a.ClosedAt = &now

	if a.PlatformFee > 0 {
		if s.cfg.PlatformAccountID == uuid.Nil {
			s.log.Warn("platform account not configured, fee stays in escrow",
				zap.Int64("agreement_id", a.ID), zap.Int64("fee", a.PlatformFee))
		} else {
			balance, err := s.custody.EscrowBalance(ctx, tx, a.ID)
			if err != nil {
				return err
			}
			if balance < a.PlatformFee {
				s.log.Warn("escrow balance below platform fee, skipping sweep",
					zap.Int64("agreement_id", a.ID), zap.Int64("balance", balance), zap.Int64("fee", a.PlatformFee))
			} else {
				if err := s.custody.Transfer(ctx, tx, custody.Transfer{
					AgreementID: a.ID,
					Direction:   models.TransferDirectionFee,
					To:          s.cfg.PlatformAccountID,
					Asset:       a.Asset,
					Amount:      a.PlatformFee,
				}); err != nil {
					return err
				}
				n.audit(models.AuditLog{
					ActorType:  "system",
					Action:     "platform_fee_collected",
					EntityType: "agreement",
					EntityID:   agreementEntityID(a.ID),
					Meta:       map[string]any{"fee": a.PlatformFee},
				})
				n.event(events.EventFundsTransferred, map[string]any{
					"agreement_id": a.ID,
					"direction":    models.TransferDirectionFee,
					"amount":       a.PlatformFee,
					"payer_id":     a.PayerID.String(),
					"payee_id":     a.PayeeID.String(),
				})
			}
		}
	}

	if err := s.reputations.IncrementCompletedJobs(ctx, tx, a.PayerID); err != nil {
		return err
	}
	if err := s.reputations.IncrementCompletedJobs(ctx, tx, a.PayeeID); err != nil {
		return err
	}
	return nil
}

// RateParticipant records one party's 1-5 rating of the other after
// completion and folds it into the counterparty's running average. The
// divisor is the already-incremented job counter, so a job completed
// before its rating arrives weighs the average accordingly.
func (s *MilestoneService) RateParticipant(ctx context.Context, agreementID int64, callerID uuid.UUID, rating int) (*models.Agreement, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", models.ErrInvalidInput)
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
		return nil, fmt.Errorf("%w: only a party can rate", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusCompleted {
		return nil, fmt.Errorf("%w: agreement is %s", models.ErrInvalidStatus, agreement.Status)
	}

	rated := agreement.Counterparty(callerID)
	if callerID == agreement.PayerID {
		if agreement.PayerRating != nil {
			return nil, fmt.Errorf("payer rating: %w", models.ErrAlreadyRated)
		}
		agreement.PayerRating = &rating
	} else {
		if agreement.PayeeRating != nil {
			return nil, fmt.Errorf("payee rating: %w", models.ErrAlreadyRated)
		}
		agreement.PayeeRating = &rating
	}

	rep, err := s.reputations.GetForUpdate(ctx, tx, rated)
	if err != nil {
		return nil, err
	}
	jobs := rep.CompletedJobs
	if jobs < 1 {
		jobs = 1
	}
	score := (rep.Score*(jobs-1) + rating) / jobs
	if err := s.reputations.UpdateScore(ctx, tx, rated, score); err != nil {
		return nil, err
	}

	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "participant_rated",
		EntityType:  "agreement",
		EntityID:    agreementEntityID(agreement.ID),
		Meta:        map[string]any{"rated": rated.String(), "rating": rating, "new_score": score},
	})

	return agreement, nil
}

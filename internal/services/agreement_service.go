package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/fees"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/rbac"
	"github.com/milestone-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type AgreementService struct {
	pool       TxBeginner
	agreements AgreementStore
	milestones MilestoneStore
	users      UserStore
	custody    custody.Adapter
	auditRepo  AuditStore
	publisher  events.Publisher
	cfg        *config.Config
	log        *zap.Logger
}

func NewAgreementService(
	pool TxBeginner,
	agreements AgreementStore,
	milestones MilestoneStore,
	users UserStore,
	custodyAdapter custody.Adapter,
	auditRepo AuditStore,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AgreementService {
	return &AgreementService{
		pool:       pool,
		agreements: agreements,
		milestones: milestones,
		users:      users,
		custody:    custodyAdapter,
		auditRepo:  auditRepo,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
	}
}

type CreateAgreementInput struct {
	PayeeID     uuid.UUID
	Title       string
	Description *string
	Deadline    *time.Time
	Asset       models.Asset
}

func (s *AgreementService) CreateAgreement(ctx context.Context, payerID uuid.UUID, in CreateAgreementInput) (*models.Agreement, error) {
	if in.PayeeID == uuid.Nil {
		return nil, fmt.Errorf("%w: payee is required", models.ErrInvalidInput)
	}
	if in.PayeeID == payerID {
		return nil, fmt.Errorf("%w: payer and payee must be different users", models.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if in.Deadline != nil && !in.Deadline.After(time.Now()) {
		return nil, fmt.Errorf("%w: deadline is in the past", models.ErrInvalidInput)
	}
	if err := normalizeAsset(s.cfg, &in.Asset); err != nil {
		return nil, err
	}

	exists, err := s.users.Exists(ctx, in.PayeeID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("payee %s: %w", in.PayeeID, models.ErrNotFound)
	}

	agreement := &models.Agreement{
		PayerID:        payerID,
		PayeeID:        in.PayeeID,
		Status:         models.AgreementStatusCreated,
		Title:          in.Title,
		Description:    in.Description,
		Asset:          in.Asset,
		PlatformFeeBPS: s.cfg.PlatformFeeBPS,
		Deadline:       in.Deadline,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.agreements.Create(ctx, tx, agreement); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &payerID,
		ActorType:   "user",
		Action:      "agreement_created",
		EntityType:  "agreement",
		EntityID:    agreementEntityID(agreement.ID),
		Meta:        map[string]any{"payee_id": in.PayeeID.String(), "asset_kind": agreement.Asset.Kind},
	})

	return agreement, nil
}

type AddMilestoneInput struct {
	Title       string
	Description *string
	Amount      int64
	Deadline    *time.Time
}

func (s *AgreementService) AddMilestone(ctx context.Context, agreementID int64, callerID uuid.UUID, in AddMilestoneInput) (*models.Milestone, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", models.ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidInput)
	}
	if in.Deadline != nil && !in.Deadline.After(time.Now()) {
		return nil, fmt.Errorf("%w: deadline is in the past", models.ErrInvalidInput)
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
	if agreement.PayerID != callerID {
		return nil, fmt.Errorf("%w: only the payer can add milestones", models.ErrForbidden)
	}
	if agreement.Status != models.AgreementStatusCreated {
		return nil, fmt.Errorf("%w: milestones can only be added before funding, agreement is %s", models.ErrInvalidStatus, agreement.Status)
	}

	existing, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= s.cfg.MaxMilestones {
		return nil, fmt.Errorf("%w: agreement already has %d milestones", models.ErrInvalidInput, len(existing))
	}

	milestone := &models.Milestone{
		AgreementID: agreement.ID,
		Idx:         len(existing),
		Status:      models.MilestoneStatusNotStarted,
		Title:       in.Title,
		Description: in.Description,
		Amount:      in.Amount,
		Deadline:    in.Deadline,
	}
	if err := s.milestones.Append(ctx, tx, milestone); err != nil {
		return nil, err
	}

	agreement.TotalAmount += in.Amount
	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "milestone_added",
		EntityType:  "milestone",
		EntityID:    milestoneEntityID(agreement.ID, milestone.Idx),
		Meta:        map[string]any{"idx": milestone.Idx, "amount": milestone.Amount},
	})

	return milestone, nil
}

// FundAgreement pulls total+fee from the payer's wallet into escrow. An
// insufficient balance rolls the whole operation back, leaving the
// agreement in created.
func (s *AgreementService) FundAgreement(ctx context.Context, agreementID int64, callerID uuid.UUID) (*models.Agreement, error) {
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
		return nil, fmt.Errorf("%w: only the payer can fund the agreement", models.ErrForbidden)
	}

	milestones, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	if len(milestones) == 0 {
		return nil, fmt.Errorf("%w: cannot fund an agreement without milestones", models.ErrInvalidStatus)
	}

	n := &notifier{}
	if err := transitionAgreement(agreement, models.AgreementStatusFunded, &callerID, "user", n); err != nil {
		return nil, err
	}

	agreement.PlatformFee = fees.Compute(agreement.TotalAmount, agreement.PlatformFeeBPS)
	now := time.Now()
	agreement.FundedAt = &now

	if err := s.custody.Transfer(ctx, tx, custody.Transfer{
		AgreementID: agreement.ID,
		Direction:   models.TransferDirectionHold,
		From:        agreement.PayerID,
		Asset:       agreement.Asset,
		Amount:      agreement.TotalAmount + agreement.PlatformFee,
	}); err != nil {
		return nil, err
	}
	n.event(events.EventFundsTransferred, map[string]any{
		"agreement_id": agreement.ID,
		"direction":    models.TransferDirectionHold,
		"from":         agreement.PayerID.String(),
		"amount":       agreement.TotalAmount + agreement.PlatformFee,
		"payer_id":     agreement.PayerID.String(),
		"payee_id":     agreement.PayeeID.String(),
	})

	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}

	n.audit(models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "agreement_funded",
		EntityType:  "agreement",
		EntityID:    agreementEntityID(agreement.ID),
		Meta:        map[string]any{"total_amount": agreement.TotalAmount, "platform_fee": agreement.PlatformFee},
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return agreement, nil
}

// CancelAgreement closes the agreement and refunds escrowed funds to the
// payer. The payee can cancel only before any work started; the payer
// any time before a milestone completed, as long as no dispute is open.
func (s *AgreementService) CancelAgreement(ctx context.Context, agreementID int64, callerID uuid.UUID) (*models.Agreement, error) {
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
		return nil, fmt.Errorf("%w: only the payer or payee can cancel", models.ErrForbidden)
	}
	if agreement.Status == models.AgreementStatusInDispute {
		return nil, fmt.Errorf("%w: cannot cancel while a dispute is open", models.ErrInvalidStatus)
	}
	if models.IsTerminalAgreementStatus(agreement.Status) {
		return nil, fmt.Errorf("%w: agreement is already %s", models.ErrInvalidStatus, agreement.Status)
	}

	milestones, err := s.milestones.List(ctx, tx, agreement.ID)
	if err != nil {
		return nil, err
	}
	for i := range milestones {
		if milestones[i].Status == models.MilestoneStatusCompleted {
			return nil, fmt.Errorf("%w: cannot cancel after a completed milestone", models.ErrInvalidStatus)
		}
	}
	if callerID == agreement.PayeeID {
		for i := range milestones {
			if milestones[i].Status != models.MilestoneStatusNotStarted {
				return nil, fmt.Errorf("%w: payee can cancel only before work starts", models.ErrInvalidStatus)
			}
		}
	}

	// Funds still escrowed: every non-terminal milestone plus the fee.
	// Milestones cancelled by arbitration were already paid out.
	var refund int64
	funded := agreement.FundedAt != nil
	if funded {
		for i := range milestones {
			if !milestones[i].Terminal() {
				refund += milestones[i].Amount
			}
		}
		refund += agreement.PlatformFee
	}

	n := &notifier{}
	for i := range milestones {
		if milestones[i].Terminal() {
			continue
		}
		if err := transitionMilestone(agreement, &milestones[i], models.MilestoneStatusCancelled, &callerID, "user", n); err != nil {
			return nil, err
		}
		if err := s.milestones.Update(ctx, tx, &milestones[i]); err != nil {
			return nil, err
		}
	}

	if err := transitionAgreement(agreement, models.AgreementStatusCancelled, &callerID, "user", n); err != nil {
		return nil, err
	}
	now := time.Now()
	agreement.ClosedAt = &now

	if refund > 0 {
		if err := s.custody.Transfer(ctx, tx, custody.Transfer{
			AgreementID: agreement.ID,
			Direction:   models.TransferDirectionRefund,
			To:          agreement.PayerID,
			Asset:       agreement.Asset,
			Amount:      refund,
		}); err != nil {
			return nil, err
		}
		n.event(events.EventFundsTransferred, map[string]any{
			"agreement_id": agreement.ID,
			"direction":    models.TransferDirectionRefund,
			"to":           agreement.PayerID.String(),
			"amount":       refund,
			"payer_id":     agreement.PayerID.String(),
			"payee_id":     agreement.PayeeID.String(),
		})
	}

	if err := s.agreements.Update(ctx, tx, agreement); err != nil {
		return nil, err
	}

	n.audit(models.AuditLog{
		ActorUserID: &callerID,
		ActorType:   "user",
		Action:      "agreement_cancelled",
		EntityType:  "agreement",
		EntityID:    agreementEntityID(agreement.ID),
		Meta:        map[string]any{"refund": refund},
	})

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	n.flush(ctx, s.auditRepo, s.publisher)

	return agreement, nil
}

func (s *AgreementService) GetAgreement(ctx context.Context, id int64, callerID uuid.UUID) (*models.AgreementDetail, error) {
	agreement, err := s.agreements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(rbac.Resolve(agreement, callerID, s.cfg.IsArbitrator(callerID))) {
		return nil, fmt.Errorf("%w: not a party to this agreement", models.ErrForbidden)
	}
	milestones, err := s.milestones.ListByAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AgreementDetail{Agreement: *agreement, Milestones: milestones}, nil
}

func (s *AgreementService) GetMilestone(ctx context.Context, agreementID int64, idx int, callerID uuid.UUID) (*models.Milestone, error) {
	agreement, err := s.agreements.GetByID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(rbac.Resolve(agreement, callerID, s.cfg.IsArbitrator(callerID))) {
		return nil, fmt.Errorf("%w: not a party to this agreement", models.ErrForbidden)
	}
	return s.milestones.Get(ctx, agreementID, idx)
}

func (s *AgreementService) ListAgreements(ctx context.Context, f repositories.AgreementFilter) ([]models.Agreement, error) {
	return s.agreements.List(ctx, f)
}

func (s *AgreementService) GetEvents(ctx context.Context, agreementID int64, callerID uuid.UUID) ([]models.AuditLog, error) {
	agreement, err := s.agreements.GetByID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if !rbac.CanView(rbac.Resolve(agreement, callerID, s.cfg.IsArbitrator(callerID))) {
		return nil, fmt.Errorf("%w: not a party to this agreement", models.ErrForbidden)
	}
	return s.auditRepo.GetByEntity(ctx, "agreement", *agreementEntityID(agreementID), 100, 0)
}

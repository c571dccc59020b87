package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
)

// notifier collects audit entries and events raised while a transaction
// is open; flush sends them only after commit, so rolled-back operations
// stay silent.
type notifier struct {
	audits []models.AuditLog
	events []events.Event
}

func (n *notifier) audit(entry models.AuditLog) {
	n.audits = append(n.audits, entry)
}

func (n *notifier) event(typ string, payload map[string]any) {
	n.events = append(n.events, events.Event{Type: typ, Payload: payload})
}

func (n *notifier) flush(ctx context.Context, audit AuditStore, publisher events.Publisher) {
	for _, entry := range n.audits {
		_ = audit.Log(ctx, entry)
	}
	for _, e := range n.events {
		_ = publisher.Publish(ctx, "events:agreement", e)
	}
}

func agreementEntityID(id int64) *string {
	s := strconv.FormatInt(id, 10)
	return &s
}

func milestoneEntityID(agreementID int64, idx int) *string {
	s := fmt.Sprintf("%d/%d", agreementID, idx)
	return &s
}

// transitionAgreement validates and stages a status transition with
// audit logging. The caller persists the agreement before commit.
func transitionAgreement(a *models.Agreement, to string, actorID *uuid.UUID, actorType string, n *notifier) error {
	if !models.IsValidAgreementTransition(a.Status, to) {
		return fmt.Errorf("%w: agreement %s -> %s", models.ErrInvalidStatus, a.Status, to)
	}

	oldStatus := a.Status
	a.Status = to

	n.audit(models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("agreement_status_%s_to_%s", oldStatus, to),
		EntityType:  "agreement",
		EntityID:    agreementEntityID(a.ID),
		Meta:        map[string]any{"old_status": oldStatus, "new_status": to},
	})
	n.event(events.EventAgreementStatusChanged, map[string]any{
		"agreement_id": a.ID,
		"old_status":   oldStatus,
		"new_status":   to,
		"payer_id":     a.PayerID.String(),
		"payee_id":     a.PayeeID.String(),
	})

	return nil
}

func transitionMilestone(a *models.Agreement, m *models.Milestone, to string, actorID *uuid.UUID, actorType string, n *notifier) error {
	if !models.IsValidMilestoneTransition(m.Status, to) {
		return fmt.Errorf("%w: milestone %d %s -> %s", models.ErrInvalidStatus, m.Idx, m.Status, to)
	}

	oldStatus := m.Status
	m.Status = to

	n.audit(models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("milestone_status_%s_to_%s", oldStatus, to),
		EntityType:  "milestone",
		EntityID:    milestoneEntityID(m.AgreementID, m.Idx),
		Meta:        map[string]any{"idx": m.Idx, "old_status": oldStatus, "new_status": to},
	})
	n.event(events.EventMilestoneStatusChanged, map[string]any{
		"agreement_id": m.AgreementID,
		"idx":          m.Idx,
		"old_status":   oldStatus,
		"new_status":   to,
		"payer_id":     a.PayerID.String(),
		"payee_id":     a.PayeeID.String(),
	})

	return nil
}

func findMilestone(ms []models.Milestone, idx int) *models.Milestone {
	for i := range ms {
		if ms[i].Idx == idx {
			return &ms[i]
		}
	}
	return nil
}

// normalizeAsset validates an asset reference and canonicalizes the
// address field. Token assets must be on the configured allowlist.
func normalizeAsset(cfg *config.Config, a *models.Asset) error {
	switch a.Kind {
	case models.AssetKindNative:
		a.Address = ""
	case models.AssetKindToken:
		if a.Address == "" {
			return fmt.Errorf("%w: token asset requires an address", models.ErrInvalidInput)
		}
		if !cfg.IsApprovedAsset(a.Address) {
			return fmt.Errorf("%w: asset %s is not approved for escrow", models.ErrInvalidInput, a.Address)
		}
	default:
		return fmt.Errorf("%w: unknown asset kind %q", models.ErrInvalidInput, a.Kind)
	}
	return nil
}

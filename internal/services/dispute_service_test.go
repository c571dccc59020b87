package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
)

func TestRaiseDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	_, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "  ")
	wantErrIs(t, err, models.ErrInvalidInput)
	_, err = env.disputes.Raise(ctx, a.ID, 0, uuid.New(), "not my business")
	wantErrIs(t, err, models.ErrForbidden)

	m, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "payee unresponsive")
	if err != nil {
		t.Fatalf("Raise: %v", err)
	}

	if m.Status != models.MilestoneStatusDisputed {
		t.Errorf("milestone status = %q, want disputed", m.Status)
	}
	d := m.Dispute
	if d == nil {
		t.Fatal("expected a dispute record")
	}
	if d.OpenedBy != "payer" {
		t.Errorf("opened_by = %q, want payer", d.OpenedBy)
	}
	if d.PayerReason == nil || *d.PayerReason != "payee unresponsive" {
		t.Errorf("payer reason = %v, want recorded", d.PayerReason)
	}
	if d.Outcome != models.DisputeOutcomeNone {
		t.Errorf("outcome = %q, want none", d.Outcome)
	}
	if got := env.agreement(a.ID).Status; got != models.AgreementStatusInDispute {
		t.Errorf("agreement status = %q, want in_dispute", got)
	}
	if !env.pub.hasEvent(events.EventDisputeRaised) {
		t.Error("expected a dispute_raised event")
	}

	_, err = env.disputes.Raise(ctx, a.ID, 0, env.payee, "raising again")
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestRaiseDisputeByPayee(t *testing.T) {
	env := newTestEnv(t)
	a := env.fundedAgreement(100_000)

	m, err := env.disputes.Raise(context.Background(), a.ID, 0, env.payee, "scope keeps growing")
	if err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if m.Dispute.OpenedBy != "payee" {
		t.Errorf("opened_by = %q, want payee", m.Dispute.OpenedBy)
	}
	if m.Dispute.PayeeResponse == nil || *m.Dispute.PayeeResponse != "scope keeps growing" {
		t.Errorf("payee statement = %v, want recorded", m.Dispute.PayeeResponse)
	}
}

func TestRaiseDisputeOnTerminalMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000)

	env.milestoneInReview(a.ID, 0)
	if _, err := env.milestones.Approve(ctx, a.ID, 0, env.payer); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "want it back")
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestMilestoneOpsFrozenDuringDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000)
	env.milestoneInReview(a.ID, 0)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "not as described"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	_, err := env.milestones.Start(ctx, a.ID, 1, env.payee)
	wantErrIs(t, err, models.ErrInvalidStatus)
	_, err = env.milestones.Approve(ctx, a.ID, 0, env.payer)
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestSecondDisputeWhileFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000, 25_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "milestone 0 stalled"); err != nil {
		t.Fatalf("first Raise: %v", err)
	}
	if _, err := env.disputes.Raise(ctx, a.ID, 1, env.payer, "milestone 1 stalled"); err != nil {
		t.Fatalf("second Raise: %v", err)
	}

	resolve := ResolveDisputeInput{Outcome: models.DisputeOutcomePayerWins}
	if _, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, resolve); err != nil {
		t.Fatalf("Resolve 0: %v", err)
	}
	if got := env.agreement(a.ID).Status; got != models.AgreementStatusInDispute {
		t.Errorf("agreement status = %q, want still in_dispute with an open dispute", got)
	}

	if _, err := env.disputes.Resolve(ctx, a.ID, 1, env.arbitrator, resolve); err != nil {
		t.Fatalf("Resolve 1: %v", err)
	}
	if got := env.agreement(a.ID).Status; got != models.AgreementStatusInProgress {
		t.Errorf("agreement status = %q, want in_progress with milestone 2 pending", got)
	}
}

func TestRespondDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "deliverable missing"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	_, err := env.disputes.Respond(ctx, a.ID, 0, env.payee, "")
	wantErrIs(t, err, models.ErrInvalidInput)
	// the payer's statement was recorded when the dispute opened
	_, err = env.disputes.Respond(ctx, a.ID, 0, env.payer, "let me add")
	wantErrIs(t, err, models.ErrInvalidStatus)

	m, err := env.disputes.Respond(ctx, a.ID, 0, env.payee, "it was delivered friday")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if m.Dispute.PayeeResponse == nil || *m.Dispute.PayeeResponse != "it was delivered friday" {
		t.Errorf("payee response = %v, want recorded", m.Dispute.PayeeResponse)
	}

	_, err = env.disputes.Respond(ctx, a.ID, 0, env.payee, "one more thing")
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestRespondWithoutDispute(t *testing.T) {
	env := newTestEnv(t)
	a := env.fundedAgreement(100_000)

	_, err := env.disputes.Respond(context.Background(), a.ID, 0, env.payee, "responding to nothing")
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestResolveByNonArbitrator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "stalled"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	for _, caller := range []uuid.UUID{env.payer, env.payee, uuid.New()} {
		_, err := env.disputes.Resolve(ctx, a.ID, 0, caller, ResolveDisputeInput{Outcome: models.DisputeOutcomePayerWins})
		wantErrIs(t, err, models.ErrForbidden)
	}
}

func TestResolvePayerWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "never delivered"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	m, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{
		Outcome: models.DisputeOutcomePayerWins,
		Notes:   strPtr("no evidence of delivery"),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if m.Status != models.MilestoneStatusCancelled {
		t.Errorf("milestone status = %q, want cancelled", m.Status)
	}
	d := m.Dispute
	if d.Outcome != models.DisputeOutcomePayerWins {
		t.Errorf("outcome = %q, want payer_wins", d.Outcome)
	}
	if d.PayerAmount != 100_000 || d.PayeeAmount != 0 {
		t.Errorf("split = %d/%d, want 100000/0", d.PayerAmount, d.PayeeAmount)
	}
	if d.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
	if d.ResolutionNotes == nil || *d.ResolutionNotes != "no evidence of delivery" {
		t.Errorf("notes = %v, want recorded", d.ResolutionNotes)
	}
	// funding was 150000 + 3000 fee; the payer gets the disputed 100000 back
	if got := env.bank.wallets[env.payer]; got != 1_000_000-153_000+100_000 {
		t.Errorf("payer balance = %d, want %d", got, 1_000_000-153_000+100_000)
	}
	if got := env.agreement(a.ID).Status; got != models.AgreementStatusInProgress {
		t.Errorf("agreement status = %q, want back to in_progress", got)
	}
	if !env.pub.hasEvent(events.EventDisputeResolved) {
		t.Error("expected a dispute_resolved event")
	}
}

func TestResolvePayeeWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000)
	env.milestoneInReview(a.ID, 0)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payee, "approval withheld unfairly"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	m, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{Outcome: models.DisputeOutcomePayeeWins})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if m.Status != models.MilestoneStatusCompleted {
		t.Errorf("milestone status = %q, want completed", m.Status)
	}
	if m.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if got := env.bank.wallets[env.payee]; got != 100_000 {
		t.Errorf("payee balance = %d, want 100000", got)
	}
}

func TestResolveCompromise(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)
	env.milestoneInReview(a.ID, 0)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "half the scope shipped"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	_, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{
		Outcome:     models.DisputeOutcomeCompromise,
		PayerAmount: 30_000,
		PayeeAmount: 60_000,
	})
	wantErrIs(t, err, models.ErrInvalidInput)
	if got := env.milestone(a.ID, 0).Status; got != models.MilestoneStatusDisputed {
		t.Errorf("milestone status = %q, want still disputed after rejected split", got)
	}

	m, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{
		Outcome:     models.DisputeOutcomeCompromise,
		PayerAmount: 40_000,
		PayeeAmount: 60_000,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if m.Status != models.MilestoneStatusCompleted {
		t.Errorf("milestone status = %q, want completed", m.Status)
	}
	if got := env.bank.wallets[env.payee]; got != 60_000 {
		t.Errorf("payee balance = %d, want 60000", got)
	}
	// 1000000 - 102000 funding + 40000 compromise share
	if got := env.bank.wallets[env.payer]; got != 938_000 {
		t.Errorf("payer balance = %d, want 938000", got)
	}
	if total := env.bank.total(); total != 1_000_000 {
		t.Errorf("system total = %d, want conserved 1000000", total)
	}
}

func TestResolveLastMilestoneCompletesAgreement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "missed the deadline"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if _, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{Outcome: models.DisputeOutcomePayerWins}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := env.agreement(a.ID)
	if got.Status != models.AgreementStatusCompleted {
		t.Errorf("agreement status = %q, want completed once every milestone is terminal", got.Status)
	}
	if balance := env.bank.wallets[env.platform]; balance != 2_000 {
		t.Errorf("platform balance = %d, want the 2000 fee", balance)
	}
	if jobs := env.store.reputations[env.payee].CompletedJobs; jobs != 1 {
		t.Errorf("payee completed jobs = %d, want 1", jobs)
	}
	if balance := env.bank.escrow[a.ID]; balance != 0 {
		t.Errorf("escrow = %d, want 0", balance)
	}
}

func TestDoubleResolveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 50_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "stalled"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if _, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{Outcome: models.DisputeOutcomePayeeWins}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	payeeBalance := env.bank.wallets[env.payee]
	_, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{Outcome: models.DisputeOutcomePayerWins})
	wantErrIs(t, err, models.ErrInvalidStatus)
	if env.bank.wallets[env.payee] != payeeBalance {
		t.Error("re-resolution must not move funds")
	}
}

func TestResolveUnknownOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "stalled"); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	_, err := env.disputes.Resolve(ctx, a.ID, 0, env.arbitrator, ResolveDisputeInput{Outcome: "split_the_difference"})
	wantErrIs(t, err, models.ErrInvalidInput)
}

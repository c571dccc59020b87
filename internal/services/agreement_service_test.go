package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/models"
)

func TestCreateAgreementValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payer   uuid.UUID
		input   CreateAgreementInput
		wantErr error
	}{
		{
			name:    "payee equals payer",
			payer:   env.payer,
			input:   CreateAgreementInput{PayeeID: env.payer, Title: "x", Asset: models.Asset{Kind: models.AssetKindNative}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "missing payee",
			payer:   env.payer,
			input:   CreateAgreementInput{Title: "x", Asset: models.Asset{Kind: models.AssetKindNative}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "empty title",
			payer:   env.payer,
			input:   CreateAgreementInput{PayeeID: env.payee, Title: "   ", Asset: models.Asset{Kind: models.AssetKindNative}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "unknown payee",
			payer:   env.payer,
			input:   CreateAgreementInput{PayeeID: uuid.New(), Title: "x", Asset: models.Asset{Kind: models.AssetKindNative}},
			wantErr: models.ErrNotFound,
		},
		{
			name:    "token without address",
			payer:   env.payer,
			input:   CreateAgreementInput{PayeeID: env.payee, Title: "x", Asset: models.Asset{Kind: models.AssetKindToken}},
			wantErr: models.ErrInvalidInput,
		},
		{
			name:    "token not on allowlist",
			payer:   env.payer,
			input:   CreateAgreementInput{PayeeID: env.payee, Title: "x", Asset: models.Asset{Kind: models.AssetKindToken, Address: "0xdeadbeef"}},
			wantErr: models.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.agreements.CreateAgreement(ctx, tt.payer, tt.input)
			wantErrIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateAgreement(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.agreements.CreateAgreement(context.Background(), env.payer, CreateAgreementInput{
		PayeeID: env.payee,
		Title:   "landing page build",
		Asset:   models.Asset{Kind: models.AssetKindNative},
	})
	if err != nil {
		t.Fatalf("CreateAgreement: %v", err)
	}

	if a.ID == 0 {
		t.Error("expected an id to be assigned")
	}
	if a.Status != models.AgreementStatusCreated {
		t.Errorf("status = %q, want %q", a.Status, models.AgreementStatusCreated)
	}
	if a.TotalAmount != 0 {
		t.Errorf("total = %d, want 0", a.TotalAmount)
	}
	if a.PlatformFeeBPS != env.cfg.PlatformFeeBPS {
		t.Errorf("fee bps = %d, want %d", a.PlatformFeeBPS, env.cfg.PlatformFeeBPS)
	}
	if !env.store.hasAudit("agreement_created") {
		t.Error("expected an agreement_created audit entry")
	}
}

func TestAddMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createAgreement()

	_, err := env.agreements.AddMilestone(ctx, a.ID, env.payee, AddMilestoneInput{Title: "x", Amount: 100})
	wantErrIs(t, err, models.ErrForbidden)
	_, err = env.agreements.AddMilestone(ctx, a.ID, env.payer, AddMilestoneInput{Title: "x", Amount: 0})
	wantErrIs(t, err, models.ErrInvalidInput)

	m1, err := env.agreements.AddMilestone(ctx, a.ID, env.payer, AddMilestoneInput{Title: "design", Amount: 100_000})
	if err != nil {
		t.Fatalf("AddMilestone: %v", err)
	}
	m2, err := env.agreements.AddMilestone(ctx, a.ID, env.payer, AddMilestoneInput{Title: "build", Amount: 200_000})
	if err != nil {
		t.Fatalf("AddMilestone: %v", err)
	}

	if m1.Idx != 0 || m2.Idx != 1 {
		t.Errorf("indexes = %d, %d, want 0, 1", m1.Idx, m2.Idx)
	}
	if got := env.agreement(a.ID).TotalAmount; got != 300_000 {
		t.Errorf("total = %d, want 300000", got)
	}
}

func TestAddMilestoneAfterFunding(t *testing.T) {
	env := newTestEnv(t)
	a := env.fundedAgreement(100_000)

	_, err := env.agreements.AddMilestone(context.Background(), a.ID, env.payer, AddMilestoneInput{Title: "late", Amount: 50_000})
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestFundAgreement(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement(100_000, 200_000)

	funded, err := env.agreements.FundAgreement(context.Background(), a.ID, env.payer)
	if err != nil {
		t.Fatalf("FundAgreement: %v", err)
	}

	if funded.Status != models.AgreementStatusFunded {
		t.Errorf("status = %q, want %q", funded.Status, models.AgreementStatusFunded)
	}
	// 2% of 300000
	if funded.PlatformFee != 6_000 {
		t.Errorf("fee = %d, want 6000", funded.PlatformFee)
	}
	if funded.FundedAt == nil {
		t.Error("expected funded_at to be set")
	}
	if got := env.bank.wallets[env.payer]; got != 1_000_000-306_000 {
		t.Errorf("payer balance = %d, want %d", got, 1_000_000-306_000)
	}
	if got := env.bank.escrow[a.ID]; got != 306_000 {
		t.Errorf("escrow = %d, want 306000", got)
	}
	if !env.pool.last().committed {
		t.Error("expected the funding transaction to commit")
	}
}

func TestFundAgreementInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement(2_000_000)

	_, err := env.agreements.FundAgreement(context.Background(), a.ID, env.payer)
	wantErrIs(t, err, custody.ErrInsufficientFunds)

	got := env.agreement(a.ID)
	if got.Status != models.AgreementStatusCreated {
		t.Errorf("status = %q, want %q after failed funding", got.Status, models.AgreementStatusCreated)
	}
	if got.FundedAt != nil {
		t.Error("funded_at must stay unset after failed funding")
	}
	if env.bank.wallets[env.payer] != 1_000_000 {
		t.Errorf("payer balance = %d, want untouched 1000000", env.bank.wallets[env.payer])
	}
	tx := env.pool.last()
	if tx.committed || !tx.rolled {
		t.Error("expected the failed funding transaction to roll back")
	}
}

func TestFundAgreementRequiresMilestones(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement()

	_, err := env.agreements.FundAgreement(context.Background(), a.ID, env.payer)
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestFundAgreementPayerOnly(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement(100_000)

	_, err := env.agreements.FundAgreement(context.Background(), a.ID, env.payee)
	wantErrIs(t, err, models.ErrForbidden)
}

func TestCancelBeforeFunding(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement(100_000)

	cancelled, err := env.agreements.CancelAgreement(context.Background(), a.ID, env.payer)
	if err != nil {
		t.Fatalf("CancelAgreement: %v", err)
	}
	if cancelled.Status != models.AgreementStatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, models.AgreementStatusCancelled)
	}
	if cancelled.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}
	if len(env.bank.calls) != 0 {
		t.Errorf("expected no transfers before funding, got %d", len(env.bank.calls))
	}
	if got := env.milestone(a.ID, 0).Status; got != models.MilestoneStatusCancelled {
		t.Errorf("milestone status = %q, want cancelled", got)
	}
}

func TestCancelFundedRefundsEverything(t *testing.T) {
	env := newTestEnv(t)
	a := env.fundedAgreement(100_000, 200_000)

	if _, err := env.agreements.CancelAgreement(context.Background(), a.ID, env.payer); err != nil {
		t.Fatalf("CancelAgreement: %v", err)
	}

	if got := env.bank.wallets[env.payer]; got != 1_000_000 {
		t.Errorf("payer balance = %d, want full refund to 1000000", got)
	}
	if got := env.bank.escrow[a.ID]; got != 0 {
		t.Errorf("escrow = %d, want 0", got)
	}
}

func TestPayeeCancelOnlyBeforeWorkStarts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.fundedAgreement(100_000, 200_000)
	if _, err := env.agreements.CancelAgreement(ctx, a.ID, env.payee); err != nil {
		t.Fatalf("payee cancel before start: %v", err)
	}
	if got := env.bank.wallets[env.payer]; got != 1_000_000 {
		t.Errorf("payer balance = %d, want full refund", got)
	}

	b := env.fundedAgreement(100_000)
	if _, err := env.milestones.Start(ctx, b.ID, 0, env.payee); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := env.agreements.CancelAgreement(ctx, b.ID, env.payee)
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestCancelBlockedByCompletedMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000, 200_000)

	env.milestoneInReview(a.ID, 0)
	if _, err := env.milestones.Approve(ctx, a.ID, 0, env.payer); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err := env.agreements.CancelAgreement(ctx, a.ID, env.payer)
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestCancelBlockedByOpenDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.fundedAgreement(100_000)

	if _, err := env.milestones.Start(ctx, a.ID, 0, env.payee); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := env.disputes.Raise(ctx, a.ID, 0, env.payer, "work stalled"); err != nil {
		t.Fatalf("Raise: %v", err)
	}

	_, err := env.agreements.CancelAgreement(ctx, a.ID, env.payer)
	wantErrIs(t, err, models.ErrInvalidStatus)
}

func TestCancelByOutsiderForbidden(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAgreement(100_000)

	_, err := env.agreements.CancelAgreement(context.Background(), a.ID, uuid.New())
	wantErrIs(t, err, models.ErrForbidden)
}

func TestGetAgreementAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createAgreement(100_000)

	if _, err := env.agreements.GetAgreement(ctx, a.ID, env.payee); err != nil {
		t.Errorf("payee access: %v", err)
	}
	if _, err := env.agreements.GetAgreement(ctx, a.ID, env.arbitrator); err != nil {
		t.Errorf("arbitrator access: %v", err)
	}
	_, err := env.agreements.GetAgreement(ctx, a.ID, uuid.New())
	wantErrIs(t, err, models.ErrForbidden)

	detail, err := env.agreements.GetAgreement(ctx, a.ID, env.payer)
	if err != nil {
		t.Fatalf("GetAgreement: %v", err)
	}
	if len(detail.Milestones) != 1 {
		t.Errorf("milestones = %d, want 1", len(detail.Milestones))
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/custody"
	"github.com/milestone-escrow/backend/internal/events"
	"github.com/milestone-escrow/backend/internal/models"
	"github.com/milestone-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// fakePool hands out fakeTx transactions so tests can assert commit and
// rollback behavior without a database.
type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) last() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

// memStore keeps all entities in memory. Reads return copies so
// in-flight mutations only land through Update, like rows scanned from
// the database.
type memStore struct {
	nextID      int64
	agreements  map[int64]models.Agreement
	milestones  map[int64][]models.Milestone
	reputations map[uuid.UUID]models.Reputation
	users       map[uuid.UUID]bool
	audits      []models.AuditLog
}

func newMemStore() *memStore {
	return &memStore{
		agreements:  make(map[int64]models.Agreement),
		milestones:  make(map[int64][]models.Milestone),
		reputations: make(map[uuid.UUID]models.Reputation),
		users:       make(map[uuid.UUID]bool),
	}
}

func (m *memStore) Create(ctx context.Context, tx pgx.Tx, a *models.Agreement) error {
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	m.agreements[a.ID] = *a
	return nil
}

func (m *memStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Agreement, error) {
	a, ok := m.agreements[id]
	if !ok {
		return nil, fmt.Errorf("agreement %d: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (m *memStore) GetByID(ctx context.Context, id int64) (*models.Agreement, error) {
	return m.GetForUpdate(ctx, nil, id)
}

func (m *memStore) Update(ctx context.Context, tx pgx.Tx, a *models.Agreement) error {
	if _, ok := m.agreements[a.ID]; !ok {
		return fmt.Errorf("agreement %d: %w", a.ID, models.ErrNotFound)
	}
	m.agreements[a.ID] = *a
	return nil
}

func (m *memStore) List(ctx context.Context, f repositories.AgreementFilter) ([]models.Agreement, error) {
	var out []models.Agreement
	for _, a := range m.agreements {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) Append(ctx context.Context, tx pgx.Tx, ms *models.Milestone) error {
	ms.CreatedAt = time.Now()
	m.milestones[ms.AgreementID] = append(m.milestones[ms.AgreementID], copyMilestone(*ms))
	return nil
}

func (m *memStore) Get(ctx context.Context, agreementID int64, idx int) (*models.Milestone, error) {
	for _, ms := range m.listMilestones(agreementID) {
		if ms.Idx == idx {
			return &ms, nil
		}
	}
	return nil, fmt.Errorf("milestone %d/%d: %w", agreementID, idx, models.ErrNotFound)
}

func (m *memStore) ListByAgreement(ctx context.Context, agreementID int64) ([]models.Milestone, error) {
	return m.listMilestones(agreementID), nil
}

func (m *memStore) IncrementCompletedJobs(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	rep := m.reputations[userID]
	rep.UserID = userID
	rep.CompletedJobs++
	m.reputations[userID] = rep
	return nil
}

func (m *memStore) UpdateScore(ctx context.Context, tx pgx.Tx, userID uuid.UUID, score int) error {
	rep := m.reputations[userID]
	rep.UserID = userID
	rep.Score = score
	m.reputations[userID] = rep
	return nil
}

func (m *memStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.users[id], nil
}

func (m *memStore) Log(ctx context.Context, entry models.AuditLog) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memStore) GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for _, e := range m.audits {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) hasAudit(action string) bool {
	for _, e := range m.audits {
		if e.Action == action {
			return true
		}
	}
	return false
}

func (m *memStore) listMilestones(agreementID int64) []models.Milestone {
	stored := m.milestones[agreementID]
	out := make([]models.Milestone, len(stored))
	for i := range stored {
		out[i] = copyMilestone(stored[i])
	}
	return out
}

func (m *memStore) updateMilestone(ms *models.Milestone) error {
	stored := m.milestones[ms.AgreementID]
	for i := range stored {
		if stored[i].Idx == ms.Idx {
			stored[i] = copyMilestone(*ms)
			return nil
		}
	}
	return fmt.Errorf("milestone %d/%d: %w", ms.AgreementID, ms.Idx, models.ErrNotFound)
}

func copyMilestone(ms models.Milestone) models.Milestone {
	if ms.Dispute != nil {
		d := *ms.Dispute
		ms.Dispute = &d
	}
	return ms
}

// milestoneStore disambiguates the List/Update method names that
// memStore already uses for agreements.
type milestoneStore struct {
	*memStore
}

func (s milestoneStore) List(ctx context.Context, tx pgx.Tx, agreementID int64) ([]models.Milestone, error) {
	return s.listMilestones(agreementID), nil
}

func (s milestoneStore) Update(ctx context.Context, tx pgx.Tx, ms *models.Milestone) error {
	return s.updateMilestone(ms)
}

type reputationStore struct {
	*memStore
}

func (s reputationStore) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Reputation, error) {
	rep, ok := s.reputations[userID]
	if !ok {
		return &models.Reputation{UserID: userID}, nil
	}
	return &rep, nil
}

// fakeBank implements custody.Adapter over plain maps, enforcing the
// same non-negative balance rules as the ledger.
type fakeBank struct {
	wallets map[uuid.UUID]int64
	escrow  map[int64]int64
	calls   []custody.Transfer
}

func newFakeBank() *fakeBank {
	return &fakeBank{
		wallets: make(map[uuid.UUID]int64),
		escrow:  make(map[int64]int64),
	}
}

func (f *fakeBank) Transfer(ctx context.Context, tx pgx.Tx, t custody.Transfer) error {
	if t.Amount < 0 {
		return fmt.Errorf("%w: negative transfer amount %d", models.ErrInvalidInput, t.Amount)
	}
	if t.Amount == 0 {
		return nil
	}
	switch t.Direction {
	case models.TransferDirectionHold:
		if f.wallets[t.From] < t.Amount {
			return custody.ErrInsufficientFunds
		}
		f.wallets[t.From] -= t.Amount
		f.escrow[t.AgreementID] += t.Amount
	case models.TransferDirectionRelease, models.TransferDirectionRefund, models.TransferDirectionFee:
		if f.escrow[t.AgreementID] < t.Amount {
			return custody.ErrInsufficientFunds
		}
		f.escrow[t.AgreementID] -= t.Amount
		f.wallets[t.To] += t.Amount
	default:
		return fmt.Errorf("unknown transfer direction %q", t.Direction)
	}
	f.calls = append(f.calls, t)
	return nil
}

func (f *fakeBank) EscrowBalance(ctx context.Context, tx pgx.Tx, agreementID int64) (int64, error) {
	return f.escrow[agreementID], nil
}

// total sums all balances in the system; funding and payouts only move
// money around, so it must stay constant across any operation.
func (f *fakeBank) total() int64 {
	var sum int64
	for _, b := range f.wallets {
		sum += b
	}
	for _, b := range f.escrow {
		sum += b
	}
	return sum
}

type fakePublisher struct {
	published []events.Event
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) hasEvent(typ string) bool {
	for _, e := range f.published {
		if e.Type == typ {
			return true
		}
	}
	return false
}

type testEnv struct {
	t          *testing.T
	pool       *fakePool
	store      *memStore
	bank       *fakeBank
	pub        *fakePublisher
	cfg        *config.Config
	agreements *AgreementService
	milestones *MilestoneService
	disputes   *DisputeService

	payer      uuid.UUID
	payee      uuid.UUID
	arbitrator uuid.UUID
	platform   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		t:          t,
		pool:       &fakePool{},
		store:      newMemStore(),
		bank:       newFakeBank(),
		pub:        &fakePublisher{},
		payer:      uuid.New(),
		payee:      uuid.New(),
		arbitrator: uuid.New(),
		platform:   uuid.New(),
	}
	env.cfg = &config.Config{
		PlatformFeeBPS:    200,
		PlatformAccountID: env.platform,
		MaxMilestones:     100,
		ArbitratorIDs:     []uuid.UUID{env.arbitrator},
	}
	env.store.users[env.payer] = true
	env.store.users[env.payee] = true
	env.bank.wallets[env.payer] = 1_000_000

	log := zap.NewNop()
	ms := milestoneStore{env.store}
	reps := reputationStore{env.store}

	env.agreements = NewAgreementService(env.pool, env.store, ms, env.store, env.bank, env.store, env.pub, env.cfg, log)
	env.milestones = NewMilestoneService(env.pool, env.store, ms, reps, env.bank, env.store, env.pub, env.cfg, log)
	env.disputes = NewDisputeService(env.pool, env.store, ms, env.milestones, env.store, env.pub, env.cfg, log)
	return env
}

// createAgreement seeds an agreement with the given milestone amounts.
func (env *testEnv) createAgreement(amounts ...int64) *models.Agreement {
	env.t.Helper()
	ctx := context.Background()

	a, err := env.agreements.CreateAgreement(ctx, env.payer, CreateAgreementInput{
		PayeeID: env.payee,
		Title:   "landing page build",
		Asset:   models.Asset{Kind: models.AssetKindNative},
	})
	if err != nil {
		env.t.Fatalf("CreateAgreement: %v", err)
	}
	for i, amount := range amounts {
		if _, err := env.agreements.AddMilestone(ctx, a.ID, env.payer, AddMilestoneInput{
			Title:  fmt.Sprintf("phase %d", i+1),
			Amount: amount,
		}); err != nil {
			env.t.Fatalf("AddMilestone: %v", err)
		}
	}
	return env.agreement(a.ID)
}

// fundedAgreement seeds and funds an agreement.
func (env *testEnv) fundedAgreement(amounts ...int64) *models.Agreement {
	env.t.Helper()
	a := env.createAgreement(amounts...)
	funded, err := env.agreements.FundAgreement(context.Background(), a.ID, env.payer)
	if err != nil {
		env.t.Fatalf("FundAgreement: %v", err)
	}
	return funded
}

// milestoneInReview drives milestone idx to review_requested.
func (env *testEnv) milestoneInReview(agreementID int64, idx int) {
	env.t.Helper()
	ctx := context.Background()
	if _, err := env.milestones.Start(ctx, agreementID, idx, env.payee); err != nil {
		env.t.Fatalf("Start: %v", err)
	}
	if _, err := env.milestones.SubmitForReview(ctx, agreementID, idx, env.payee, nil); err != nil {
		env.t.Fatalf("SubmitForReview: %v", err)
	}
}

func (env *testEnv) agreement(id int64) *models.Agreement {
	env.t.Helper()
	a, err := env.store.GetByID(context.Background(), id)
	if err != nil {
		env.t.Fatalf("agreement %d: %v", id, err)
	}
	return a
}

func (env *testEnv) milestone(agreementID int64, idx int) *models.Milestone {
	env.t.Helper()
	m, err := env.store.Get(context.Background(), agreementID, idx)
	if err != nil {
		env.t.Fatalf("milestone %d/%d: %v", agreementID, idx, err)
	}
	return m
}

func wantErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}

func strPtr(s string) *string { return &s }

// Package custody moves funds between user wallets and per-agreement
// escrow accounts. All balances live in an internal double-entry ledger;
// nothing leaves the platform without a matching custody_transfers row.
package custody

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/milestone-escrow/backend/internal/models"
)

// ErrInsufficientFunds means a transfer would overdraw its source
// balance. Callers treat it as a transfer failure and roll back.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Transfer describes one movement between a user wallet and an
// agreement's escrow account. From is set for hold transfers, To for
// release, refund and fee transfers; the escrow side is implied by the
// direction.
type Transfer struct {
	AgreementID  int64
	MilestoneIdx *int
	Direction    string
	From         uuid.UUID
	To           uuid.UUID
	Asset        models.Asset
	Amount       int64
}

// Adapter executes transfers inside the caller's transaction, so a
// rollback undoes the balance changes together with everything else the
// operation wrote. Zero-amount transfers are a no-op.
type Adapter interface {
	Transfer(ctx context.Context, tx pgx.Tx, t Transfer) error
	EscrowBalance(ctx context.Context, tx pgx.Tx, agreementID int64) (int64, error)
}

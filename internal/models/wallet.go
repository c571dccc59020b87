package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a per-user, per-asset platform balance in minor units.
type Wallet struct {
	UserID    uuid.UUID `json:"user_id"`
	Asset     Asset     `json:"asset"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Custody transfer directions
const (
	TransferDirectionHold    = "hold"    // payer wallet -> escrow account
	TransferDirectionRelease = "release" // escrow account -> payee wallet
	TransferDirectionRefund  = "refund"  // escrow account -> payer wallet
	TransferDirectionFee     = "fee"     // escrow account -> platform wallet
)

// CustodyTransfer is one row of the append-only custody ledger. Every
// movement of escrowed funds leaves exactly one row here.
type CustodyTransfer struct {
	ID           int64      `json:"id"`
	AgreementID  int64      `json:"agreement_id"`
	MilestoneIdx *int       `json:"milestone_idx,omitempty"`
	Direction    string     `json:"direction"`
	FromUserID   *uuid.UUID `json:"from_user_id,omitempty"`
	ToUserID     *uuid.UUID `json:"to_user_id,omitempty"`
	Asset        Asset      `json:"asset"`
	Amount       int64      `json:"amount"`
	CreatedAt    time.Time  `json:"created_at"`
}

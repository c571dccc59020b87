package models

import (
	"time"

	"github.com/google/uuid"
)

// Agreement statuses
const (
	AgreementStatusCreated    = "created"
	AgreementStatusFunded     = "funded"
	AgreementStatusInProgress = "in_progress"
	AgreementStatusInDispute  = "in_dispute"
	AgreementStatusCompleted  = "completed"
	AgreementStatusCancelled  = "cancelled"
)

// Valid agreement transitions: from -> []to
var ValidAgreementTransitions = map[string][]string{
	AgreementStatusCreated:    {AgreementStatusFunded, AgreementStatusCancelled},
	AgreementStatusFunded:     {AgreementStatusInProgress, AgreementStatusInDispute, AgreementStatusCancelled},
	AgreementStatusInProgress: {AgreementStatusInDispute, AgreementStatusCompleted, AgreementStatusCancelled},
	AgreementStatusInDispute:  {AgreementStatusInProgress, AgreementStatusCompleted},
	AgreementStatusCompleted:  {},
	AgreementStatusCancelled:  {},
}

func IsValidAgreementTransition(from, to string) bool {
	allowed, ok := ValidAgreementTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalAgreementStatus(status string) bool {
	return status == AgreementStatusCompleted || status == AgreementStatusCancelled
}

// Asset kinds
const (
	AssetKindNative = "native"
	AssetKindToken  = "token"
)

// Asset identifies the currency funds are held in. Address is empty for
// the native asset and holds the token contract address otherwise.
type Asset struct {
	Kind    string `json:"kind"`
	Address string `json:"address,omitempty"`
}

func (a Asset) IsNative() bool {
	return a.Kind == AssetKindNative
}

type Agreement struct {
	ID             int64      `json:"id"`
	PayerID        uuid.UUID  `json:"payer_id"`
	PayeeID        uuid.UUID  `json:"payee_id"`
	Status         string     `json:"status"`
	Title          string     `json:"title"`
	Description    *string    `json:"description,omitempty"`
	Asset          Asset      `json:"asset"`
	TotalAmount    int64      `json:"total_amount"`     // sum of milestone amounts, minor units
	PlatformFeeBPS int        `json:"platform_fee_bps"` // snapshot at creation
	PlatformFee    int64      `json:"platform_fee"`     // computed at funding
	Deadline       *time.Time `json:"deadline,omitempty"`
	PayerRating    *int       `json:"payer_rating,omitempty"`
	PayeeRating    *int       `json:"payee_rating,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	FundedAt       *time.Time `json:"funded_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// IsParty reports whether the user is the payer or the payee.
func (a *Agreement) IsParty(userID uuid.UUID) bool {
	return a.PayerID == userID || a.PayeeID == userID
}

// Counterparty returns the other side of the agreement.
func (a *Agreement) Counterparty(userID uuid.UUID) uuid.UUID {
	if a.PayerID == userID {
		return a.PayeeID
	}
	return a.PayerID
}

// AgreementDetail embeds Agreement and adds its milestones to avoid a second roundtrip.
type AgreementDetail struct {
	Agreement
	Milestones []Milestone `json:"milestones"`
}

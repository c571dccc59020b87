package models

import "time"

// EscrowAccount is the pooled custody balance of one agreement. Funds
// enter on funding and leave through releases, refunds and the fee sweep;
// the balance never goes negative.
type EscrowAccount struct {
	AgreementID int64     `json:"agreement_id"`
	Asset       Asset     `json:"asset"`
	Balance     int64     `json:"balance"`
	UpdatedAt   time.Time `json:"updated_at"`
}

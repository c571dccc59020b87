package dto

import "time"

type RegisterRequest struct {
	Username    string  `json:"username"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Agreements

type CreateAgreementRequest struct {
	PayeeID      string     `json:"payee_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	AssetKind    string     `json:"asset_kind,omitempty"` // defaults to native
	AssetAddress string     `json:"asset_address,omitempty"`
}

type AddMilestoneRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Amount      int64      `json:"amount"` // minor units
	Deadline    *time.Time `json:"deadline,omitempty"`
}

type SubmitReviewRequest struct {
	Note *string `json:"note,omitempty"`
}

type RequestRevisionRequest struct {
	Feedback *string `json:"feedback,omitempty"`
}

type RateRequest struct {
	Rating int `json:"rating"` // 1..5
}

// Disputes

type RaiseDisputeRequest struct {
	Reason string `json:"reason"`
}

type RespondDisputeRequest struct {
	Response string `json:"response"`
}

type ResolveDisputeRequest struct {
	Outcome     string  `json:"outcome"` // payer_wins / payee_wins / compromise
	PayerAmount int64   `json:"payer_amount,omitempty"`
	PayeeAmount int64   `json:"payee_amount,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// Wallet

type TopupRequest struct {
	AssetKind    string `json:"asset_kind,omitempty"`
	AssetAddress string `json:"asset_address,omitempty"`
	Amount       int64  `json:"amount"`
}

type WithdrawRequest struct {
	AssetKind    string `json:"asset_kind,omitempty"`
	AssetAddress string `json:"asset_address,omitempty"`
	Amount       int64  `json:"amount"`
}

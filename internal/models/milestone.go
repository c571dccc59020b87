package models

import "time"

// Milestone statuses
const (
	MilestoneStatusNotStarted      = "not_started"
	MilestoneStatusInProgress      = "in_progress"
	MilestoneStatusReviewRequested = "review_requested"
	MilestoneStatusApproved        = "approved"
	MilestoneStatusDisputed        = "disputed"
	MilestoneStatusCompleted       = "completed"
	MilestoneStatusCancelled       = "cancelled"
)

// Valid milestone transitions: from -> []to
var ValidMilestoneTransitions = map[string][]string{
	MilestoneStatusNotStarted:      {MilestoneStatusInProgress, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusInProgress:      {MilestoneStatusReviewRequested, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusReviewRequested: {MilestoneStatusApproved, MilestoneStatusInProgress, MilestoneStatusDisputed, MilestoneStatusCancelled},
	MilestoneStatusApproved:        {MilestoneStatusCompleted},
	MilestoneStatusDisputed:        {MilestoneStatusCompleted, MilestoneStatusCancelled},
	MilestoneStatusCompleted:       {},
	MilestoneStatusCancelled:       {},
}

func IsValidMilestoneTransition(from, to string) bool {
	allowed, ok := ValidMilestoneTransitions[from]
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

func IsTerminalMilestoneStatus(status string) bool {
	return status == MilestoneStatusCompleted || status == MilestoneStatusCancelled
}

// Dispute outcomes
const (
	DisputeOutcomeNone       = "none"
	DisputeOutcomePayerWins  = "payer_wins"
	DisputeOutcomePayeeWins  = "payee_wins"
	DisputeOutcomeCompromise = "compromise"
)

// Dispute is attached to a milestone once either party escalates it.
// The record survives resolution and is immutable afterwards.
type Dispute struct {
	OpenedBy        string     `json:"opened_by"` // "payer" or "payee"
	Outcome         string     `json:"outcome"`
	PayerReason     *string    `json:"payer_reason,omitempty"`
	PayeeResponse   *string    `json:"payee_response,omitempty"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty"`
	PayerAmount     int64      `json:"payer_amount"`
	PayeeAmount     int64      `json:"payee_amount"`
	OpenedAt        time.Time  `json:"opened_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func (d *Dispute) Resolved() bool {
	return d != nil && d.Outcome != DisputeOutcomeNone
}

type Milestone struct {
	AgreementID   int64      `json:"agreement_id"`
	Idx           int        `json:"idx"`
	Status        string     `json:"status"`
	Title         string     `json:"title"`
	Description   *string    `json:"description,omitempty"`
	Amount        int64      `json:"amount"` // minor units
	Deadline      *time.Time `json:"deadline,omitempty"`
	PayeeNote     *string    `json:"payee_note,omitempty"`
	PayerFeedback *string    `json:"payer_feedback,omitempty"`
	RevisionCount int        `json:"revision_count"`
	Dispute       *Dispute   `json:"dispute,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (m *Milestone) Terminal() bool {
	return IsTerminalMilestoneStatus(m.Status)
}

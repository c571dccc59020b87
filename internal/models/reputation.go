package models

import (
	"time"

	"github.com/google/uuid"
)

// Reputation is a running average score plus a completed-jobs counter.
// CompletedJobs moves only when an agreement fully completes; Score moves
// only when a counterparty rates a completed agreement.
type Reputation struct {
	UserID        uuid.UUID `json:"user_id"`
	Score         int       `json:"score"`
	CompletedJobs int       `json:"completed_jobs"`
	UpdatedAt     time.Time `json:"updated_at"`
}

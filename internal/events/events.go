package events

import "context"

// Event types
const (
	EventAgreementStatusChanged = "agreement_status_changed"
	EventMilestoneStatusChanged = "milestone_status_changed"
	EventDisputeRaised          = "dispute_raised"
	EventDisputeResolved        = "dispute_resolved"
	EventFundsTransferred       = "funds_transferred"
	EventMilestoneOverdue       = "milestone_overdue"
	EventDeadlineApproaching    = "deadline_approaching"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

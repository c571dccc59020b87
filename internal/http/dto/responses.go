package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type PlatformInfoResponse struct {
	PlatformFeeBPS int      `json:"platform_fee_bps"`
	MaxMilestones  int      `json:"max_milestones"`
	ApprovedAssets []string `json:"approved_assets"`
	Paused         bool     `json:"paused"`
}

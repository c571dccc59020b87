// Package rbac resolves a caller's role relative to an agreement. Roles
// are relational here: nobody is globally "the payer", they are the
// payer of a specific agreement. Only the arbitrator role is global,
// granted by the platform allowlist.
package rbac

import (
	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/models"
)

// Role constants
const (
	RolePayer      = "payer"
	RolePayee      = "payee"
	RoleArbitrator = "arbitrator"
	RoleNone       = ""
)

// Permission constants
const (
	PermAddMilestone    = "add_milestone"
	PermFund            = "fund"
	PermCancel          = "cancel"
	PermStartMilestone  = "start_milestone"
	PermSubmitReview    = "submit_review"
	PermRequestRevision = "request_revision"
	PermApprove         = "approve"
	PermRaiseDispute    = "raise_dispute"
	PermRespondDispute  = "respond_dispute"
	PermResolveDispute  = "resolve_dispute"
	PermRate            = "rate"
	PermView            = "view"
)

// RolePermissions defines what each role can do on an agreement.
var RolePermissions = map[string][]string{
	RolePayer: {
		PermAddMilestone, PermFund, PermCancel,
		PermRequestRevision, PermApprove,
		PermRaiseDispute, PermRespondDispute, PermRate, PermView,
	},
	RolePayee: {
		PermStartMilestone, PermSubmitReview, PermCancel,
		PermRaiseDispute, PermRespondDispute, PermRate, PermView,
	},
	RoleArbitrator: {
		PermResolveDispute, PermView,
	},
}

// Resolve returns the caller's role relative to an agreement. Parties
// win over the arbitrator flag, so an arbitrator who is also a party
// acts as a party on their own agreements.
func Resolve(a *models.Agreement, userID uuid.UUID, arbitrator bool) string {
	switch userID {
	case a.PayerID:
		return RolePayer
	case a.PayeeID:
		return RolePayee
	}
	if arbitrator {
		return RoleArbitrator
	}
	return RoleNone
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// CanView reports whether the role may read the agreement, its
// milestones and its history.
func CanView(role string) bool {
	return HasPermission(role, PermView)
}

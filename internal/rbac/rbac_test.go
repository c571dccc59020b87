package rbac

import (
	"testing"

	"github.com/google/uuid"
	"github.com/milestone-escrow/backend/internal/models"
)

func TestResolve(t *testing.T) {
	payer := uuid.New()
	payee := uuid.New()
	arbitrator := uuid.New()
	stranger := uuid.New()
	a := &models.Agreement{PayerID: payer, PayeeID: payee}

	tests := []struct {
		name         string
		userID       uuid.UUID
		isArbitrator bool
		want         string
	}{
		{"payer", payer, false, RolePayer},
		{"payee", payee, false, RolePayee},
		{"arbitrator", arbitrator, true, RoleArbitrator},
		{"stranger", stranger, false, RoleNone},
		{"payer who is also arbitrator", payer, true, RolePayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(a, tt.userID, tt.isArbitrator); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role       string
		permission string
		want       bool
	}{
		{RolePayer, PermFund, true},
		{RolePayer, PermStartMilestone, false},
		{RolePayee, PermSubmitReview, true},
		{RolePayee, PermApprove, false},
		{RoleArbitrator, PermResolveDispute, true},
		{RoleArbitrator, PermFund, false},
		{RoleNone, PermView, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.permission); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.permission, got, tt.want)
		}
	}
}

func TestCanView(t *testing.T) {
	if !CanView(RolePayer) || !CanView(RolePayee) || !CanView(RoleArbitrator) {
		t.Error("all named roles should be able to view")
	}
	if CanView(RoleNone) {
		t.Error("strangers should not be able to view")
	}
}

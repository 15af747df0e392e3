package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/policy"
)

func newEngine() *policy.Engine {
	return policy.NewEngine(policy.DefaultRules())
}

func TestCheck_OwnerAllowedForEverything(t *testing.T) {
	t.Parallel()
	e := newEngine()

	for _, action := range e.Actions() {
		d := e.Check(domain.RoleOwner, action)
		assert.True(t, d.Allowed, "owner must be allowed for %s", action)
		assert.False(t, d.RequiresOwnerApproval, "owner never requires approval for %s", action)
	}
}

func TestCheck_DefaultDenyForUnknownAction(t *testing.T) {
	t.Parallel()
	e := newEngine()

	for _, role := range []domain.Role{domain.RoleOwner, domain.RoleFinance, domain.RoleSupport} {
		d := e.Check(role, "vendors:obliterate")
		assert.False(t, d.Allowed)
		assert.NotEmpty(t, d.Reason)
	}
}

func TestCheck_RoleTable(t *testing.T) {
	t.Parallel()
	e := newEngine()

	tests := []struct {
		name         string
		role         domain.Role
		action       domain.ActionName
		wantAllowed  bool
		wantApproval bool
	}{
		{name: "booking manager creates booking", role: domain.RoleBookingManager, action: domain.ActionBookingsCreate, wantAllowed: true},
		{name: "pricing denied vendor suspend", role: domain.RolePricing, action: domain.ActionVendorsSuspend},
		{name: "marketing denied refund", role: domain.RoleMarketing, action: domain.ActionRefundsCreate},
		{name: "finance refund needs approval", role: domain.RoleFinance, action: domain.ActionRefundsCreate, wantAllowed: true, wantApproval: true},
		{name: "leader suspend needs approval", role: domain.RoleLeader, action: domain.ActionVendorsSuspend, wantAllowed: true, wantApproval: true},
		{name: "calendar sync adds source", role: domain.RoleCalendarSync, action: domain.ActionCalendarAddSource, wantAllowed: true},
		{name: "support sends notification", role: domain.RoleSupport, action: domain.ActionNotificationsSend, wantAllowed: true},
		{name: "finance denied campaign", role: domain.RoleFinance, action: domain.ActionCampaignsCreate},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := e.Check(tt.role, tt.action)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantApproval, d.RequiresOwnerApproval)
			if !tt.wantAllowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

// Проверка чистоты: повторные вызовы не меняют результат.
func TestCheck_Deterministic(t *testing.T) {
	t.Parallel()
	e := newEngine()

	first := e.Check(domain.RoleFinance, domain.ActionRefundsCreate)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, e.Check(domain.RoleFinance, domain.ActionRefundsCreate))
	}
}

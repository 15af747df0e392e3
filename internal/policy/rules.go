package policy

import "github.com/tourbase/tourbase/internal/domain"

// DefaultRules — таблица допусков платформы. OWNER в списках не перечисляется:
// движок пропускает его для любого известного действия.
func DefaultRules() []Rule {
	return []Rule{
		{
			Action: domain.ActionVendorsCreate,
			Roles:  []domain.Role{domain.RoleVendorOnboarding, domain.RoleLeader},
		},
		{
			Action:   domain.ActionVendorsSuspend,
			Roles:    []domain.Role{domain.RoleLeader, domain.RoleSupport},
			HighRisk: true,
		},
		{
			Action: domain.ActionBookingsCreate,
			Roles:  []domain.Role{domain.RoleBookingManager, domain.RoleSupport},
		},
		{
			Action: domain.ActionBookingsUpdate,
			Roles:  []domain.Role{domain.RoleBookingManager, domain.RoleSupport},
		},
		{
			Action: domain.ActionPricingUpdate,
			Roles:  []domain.Role{domain.RolePricing, domain.RoleLeader},
		},
		{
			Action:   domain.ActionRefundsCreate,
			Roles:    []domain.Role{domain.RoleFinance},
			HighRisk: true,
		},
		{
			Action: domain.ActionCheckoutCreate,
			Roles:  []domain.Role{domain.RoleFinance, domain.RoleBookingManager},
		},
		{
			Action: domain.ActionCampaignsCreate,
			Roles:  []domain.Role{domain.RoleMarketing, domain.RoleLeader},
		},
		{
			Action: domain.ActionCalendarAddSource,
			Roles:  []domain.Role{domain.RoleCalendarSync, domain.RoleVendorOnboarding},
		},
		{
			Action: domain.ActionNotificationsSend,
			Roles:  []domain.Role{domain.RoleMarketing, domain.RoleSupport},
		},
	}
}

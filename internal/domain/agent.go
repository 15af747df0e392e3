package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role определяет полномочия агента. Единственный источник правды для enum —
// здесь; любой lower/upper-маппинг для отображения остается на стороне UI.
type Role string

const (
	RoleOwner            Role = "OWNER"
	RoleLeader           Role = "LEADER"
	RoleVendorOnboarding Role = "VENDOR_ONBOARDING"
	RoleBookingManager   Role = "BOOKING_MANAGER"
	RoleCalendarSync     Role = "CALENDAR_SYNC"
	RolePricing          Role = "PRICING"
	RoleMarketing        Role = "MARKETING"
	RoleSupport          Role = "SUPPORT"
	RoleFinance          Role = "FINANCE"
)

var allRoles = map[Role]struct{}{
	RoleOwner:            {},
	RoleLeader:           {},
	RoleVendorOnboarding: {},
	RoleBookingManager:   {},
	RoleCalendarSync:     {},
	RolePricing:          {},
	RoleMarketing:        {},
	RoleSupport:          {},
	RoleFinance:          {},
}

// ParseRole валидирует строку из конфигурации или запроса провижининга.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := allRoles[r]; !ok {
		return "", fmt.Errorf("domain: unknown role %q", s)
	}
	return r, nil
}

// Agent — авторизованный вызывающий (внутренний сервис или AI-автоматизация).
// Создается оператором платформы; после провижининга неизменяем, кроме отзыва.
type Agent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	KeyHash   string    `json:"-"` // bcrypt; секрет в открытом виде не хранится
	KeyPrefix string    `json:"key_prefix"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

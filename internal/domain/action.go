package domain

import "strings"

// ActionName — стабильный идентификатор привилегированной операции в формате
// "resource:verb". Используется как join-ключ между запросом, таблицей политик
// и записями аудита.
type ActionName string

const (
	ActionVendorsCreate     ActionName = "vendors:create"
	ActionVendorsSuspend    ActionName = "vendors:suspend"
	ActionBookingsCreate    ActionName = "bookings:create"
	ActionBookingsUpdate    ActionName = "bookings:update"
	ActionPricingUpdate     ActionName = "pricing:update"
	ActionRefundsCreate     ActionName = "refunds:create"
	ActionCheckoutCreate    ActionName = "checkout:create"
	ActionCampaignsCreate   ActionName = "campaigns:create"
	ActionCalendarAddSource ActionName = "calendar:add_source"
	ActionNotificationsSend ActionName = "notifications:send"
)

// JoinAction собирает ActionName из частей URL (/api/agent/tools/{resource}/{verb}).
func JoinAction(resource, verb string) ActionName {
	return ActionName(resource + ":" + verb)
}

// Resource возвращает левую часть идентификатора (для метрик и логов).
func (a ActionName) Resource() string {
	if i := strings.IndexByte(string(a), ':'); i > 0 {
		return string(a)[:i]
	}
	return string(a)
}

func (a ActionName) String() string { return string(a) }

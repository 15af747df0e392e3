package domain

import "time"

/*
Бизнес-сущности описаны только в объеме, который шлюз валидирует или
прокидывает насквозь. Полная форма (описания, фото, контент) живет в
CRUD-слое платформы и шлюзу не нужна.
*/

type VendorStatus string

const (
	VendorActive    VendorStatus = "active"
	VendorSuspended VendorStatus = "suspended"
)

type Vendor struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Status    VendorStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TourService — продаваемая услуга вендора (тур, экскурсия, размещение).
type TourService struct {
	ID        string  `json:"id"`
	VendorID  string  `json:"vendor_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingRefunded  BookingStatus = "REFUNDED"
)

// Refundable сообщает, допускает ли текущий статус возврат средств.
func (s BookingStatus) Refundable() bool {
	return s == BookingConfirmed || s == BookingCompleted
}

type Booking struct {
	ID            string        `json:"id"`
	ServiceID     string        `json:"service_id"`
	CustomerEmail string        `json:"customer_email"`
	StartDate     time.Time     `json:"start_date"`
	EndDate       time.Time     `json:"end_date"`
	Status        BookingStatus `json:"status"`
	TotalPrice    float64       `json:"total_price"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Refund struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	Amount     float64   `json:"amount"`
	Reason     string    `json:"reason"`
	ProviderID string    `json:"provider_id"` // ID операции на стороне платежного провайдера
	Mock       bool      `json:"mock"`        // true, если провайдер не сконфигурирован
	CreatedAt  time.Time `json:"created_at"`
}

type CheckoutSession struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	URL        string    `json:"url"`
	ProviderID string    `json:"provider_id"`
	Mock       bool      `json:"mock"`
	CreatedAt  time.Time `json:"created_at"`
}

type Campaign struct {
	ID        string    `json:"id"`
	VendorID  string    `json:"vendor_id"`
	Name      string    `json:"name"`
	Budget    float64   `json:"budget"`
	StartsAt  time.Time `json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
}

type CalendarSource struct {
	ID        string    `json:"id"`
	VendorID  string    `json:"vendor_id"`
	Provider  string    `json:"provider"` // ical, google, airbnb, booking
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Channel   string    `json:"channel"` // email, sms
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

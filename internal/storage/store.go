package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
)

// ErrNotFound возвращается для отсутствующих сущностей любой реализацией.
var ErrNotFound = errors.New("storage: not found")

// Store — доменное хранилище платформы, внешний коллаборатор шлюза.
// Тонкий CRUD без бизнес-логики; правила живут в validate и handlers.
type Store interface {
	CreateVendor(ctx context.Context, v *domain.Vendor) error
	GetVendor(ctx context.Context, id string) (*domain.Vendor, error)
	SetVendorStatus(ctx context.Context, id string, status domain.VendorStatus) error

	GetService(ctx context.Context, id string) (*domain.TourService, error)
	UpdateServicePrice(ctx context.Context, serviceID string, price float64) error

	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	// HasConfirmedOverlap отвечает, пересекается ли [start, end) с какой-либо
	// подтвержденной бронью той же услуги. excludeBookingID выводит из
	// проверки саму обновляемую бронь (при переносе дат бронь не должна
	// конфликтовать сама с собой); пустая строка — не исключать ничего.
	HasConfirmedOverlap(ctx context.Context, serviceID string, start, end time.Time, excludeBookingID string) (bool, error)

	CreateRefund(ctx context.Context, r *domain.Refund) error
	CreateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	CreateCalendarSource(ctx context.Context, cs *domain.CalendarSource) error
	CreateNotification(ctx context.Context, n *domain.Notification) error
}

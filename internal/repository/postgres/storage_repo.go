package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/storage"
)

// Реализация storage.Store поверх Postgres. Тонкий CRUD: бизнес-правила
// живут уровнем выше, здесь только SQL и маппинг ошибок в ErrNotFound.

func (r *Repo) CreateVendor(ctx context.Context, v *domain.Vendor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vendors (id, name, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.Name, v.Email, v.Status, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create vendor: %w", err)
	}
	return nil
}

func (r *Repo) GetVendor(ctx context.Context, id string) (*domain.Vendor, error) {
	v := &domain.Vendor{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, status, created_at, updated_at
		FROM vendors WHERE id = $1`, id,
	).Scan(&v.ID, &v.Name, &v.Email, &v.Status, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

func (r *Repo) SetVendorStatus(ctx context.Context, id string, status domain.VendorStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE vendors SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: set vendor status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) GetService(ctx context.Context, id string) (*domain.TourService, error) {
	s := &domain.TourService{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, vendor_id, name, price, available
		FROM services WHERE id = $1`, id,
	).Scan(&s.ID, &s.VendorID, &s.Name, &s.Price, &s.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *Repo) UpdateServicePrice(ctx context.Context, serviceID string, price float64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE services SET price = $1 WHERE id = $2`, price, serviceID)
	if err != nil {
		return fmt.Errorf("postgres: update price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *Repo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (id, service_id, customer_email, start_date, end_date, status, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.ServiceID, b.CustomerEmail, b.StartDate, b.EndDate, b.Status, b.TotalPrice, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create booking: %w", err)
	}
	return nil
}

func (r *Repo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	b := &domain.Booking{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, service_id, customer_email, start_date, end_date, status, total_price, created_at, updated_at
		FROM bookings WHERE id = $1`, id,
	).Scan(&b.ID, &b.ServiceID, &b.CustomerEmail, &b.StartDate, &b.EndDate, &b.Status, &b.TotalPrice, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (r *Repo) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET status = $1, start_date = $2, end_date = $3, updated_at = NOW()
		WHERE id = $4`,
		b.Status, b.StartDate, b.EndDate, b.ID)
	if err != nil {
		return fmt.Errorf("postgres: update booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HasConfirmedOverlap: полуинтервалы [start, end) пересекаются, если
// start < end другой брони и end > ее start. excludeBookingID выводит из
// проверки саму обновляемую бронь.
func (r *Repo) HasConfirmedOverlap(ctx context.Context, serviceID string, start, end time.Time, excludeBookingID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE service_id = $1 AND status = $2
			  AND start_date < $4 AND end_date > $3
			  AND ($5 = '' OR id <> $5)
		)`, serviceID, domain.BookingConfirmed, start, end, excludeBookingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: overlap check: %w", err)
	}
	return exists, nil
}

func (r *Repo) CreateRefund(ctx context.Context, ref *domain.Refund) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refunds (id, booking_id, amount, reason, provider_id, mock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ref.ID, ref.BookingID, ref.Amount, ref.Reason, ref.ProviderID, ref.Mock, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create refund: %w", err)
	}
	return nil
}

func (r *Repo) CreateCheckoutSession(ctx context.Context, s *domain.CheckoutSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkout_sessions (id, booking_id, amount, currency, url, provider_id, mock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.BookingID, s.Amount, s.Currency, s.URL, s.ProviderID, s.Mock, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create checkout session: %w", err)
	}
	return nil
}

func (r *Repo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns (id, vendor_id, name, budget, starts_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.VendorID, c.Name, c.Budget, c.StartsAt, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create campaign: %w", err)
	}
	return nil
}

func (r *Repo) CreateCalendarSource(ctx context.Context, cs *domain.CalendarSource) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO calendar_sources (id, vendor_id, provider, url, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cs.ID, cs.VendorID, cs.Provider, cs.URL, cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create calendar source: %w", err)
	}
	return nil
}

func (r *Repo) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient, channel, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.Recipient, n.Channel, n.Message, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create notification: %w", err)
	}
	return nil
}

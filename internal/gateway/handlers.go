package gateway

/*
Регистрация всех действий платформы. Каждый хендлер — чистая декларация:
схема запроса + Validate, опциональное бизнес-правило, замыкание мутации.
Всю сквозную обвязку (auth, policy, идемпотентность, аудит, метрики)
выполняет конвейер Core.Process.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/payment"
	"github.com/tourbase/tourbase/internal/storage"
	"github.com/tourbase/tourbase/internal/validate"
)

const dateLayout = "2006-01-02"

// Deps — коллабораторы доменных хендлеров.
type Deps struct {
	Store    storage.Store
	Payments payment.Provider
	Bookings *validate.BookingRules
	Refunds  *validate.RefundRules
}

func decodeStrict(body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

func parseDateRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be YYYY-MM-DD: %w", err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must be YYYY-MM-DD: %w", err)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date must be after start_date")
	}
	return s, e, nil
}

// --- vendors:create ---

type createVendorRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r *createVendorRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return fmt.Errorf("email must be a valid address")
	}
	return nil
}

// --- vendors:suspend (high-risk) ---

type suspendVendorRequest struct {
	VendorID string `json:"vendor_id"`
	Reason   string `json:"reason"`
}

func (r *suspendVendorRequest) Validate() error {
	if r.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	return nil
}

// --- bookings:create ---

type createBookingRequest struct {
	ServiceID     string `json:"service_id"`
	CustomerEmail string `json:"customer_email"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`

	start, end time.Time
}

func (r *createBookingRequest) Validate() error {
	if r.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	if r.CustomerEmail == "" || !strings.Contains(r.CustomerEmail, "@") {
		return fmt.Errorf("customer_email must be a valid address")
	}
	var err error
	r.start, r.end, err = parseDateRange(r.StartDate, r.EndDate)
	return err
}

// --- bookings:update ---

type updateBookingRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	status     domain.BookingStatus
	start, end time.Time
	moveDates  bool
}

func (r *updateBookingRequest) Validate() error {
	if r.BookingID == "" {
		return fmt.Errorf("booking_id is required")
	}
	if r.Status == "" && r.StartDate == "" && r.EndDate == "" {
		return fmt.Errorf("nothing to update: pass status and/or a date range")
	}
	if r.Status != "" {
		switch domain.BookingStatus(r.Status) {
		case domain.BookingPending, domain.BookingConfirmed, domain.BookingCancelled, domain.BookingCompleted:
			r.status = domain.BookingStatus(r.Status)
		default:
			// REFUNDED выставляется только через refunds:create
			return fmt.Errorf("status %q is not assignable", r.Status)
		}
	}
	if r.StartDate != "" || r.EndDate != "" {
		if r.StartDate == "" || r.EndDate == "" {
			return fmt.Errorf("start_date and end_date must be moved together")
		}
		var err error
		r.start, r.end, err = parseDateRange(r.StartDate, r.EndDate)
		if err != nil {
			return err
		}
		r.moveDates = true
	}
	return nil
}

// --- pricing:update ---

type updatePriceRequest struct {
	ServiceID string  `json:"service_id"`
	Price     float64 `json:"price"`
}

func (r *updatePriceRequest) Validate() error {
	if r.ServiceID == "" {
		return fmt.Errorf("service_id is required")
	}
	if r.Price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	return nil
}

// --- refunds:create (high-risk) ---

type createRefundRequest struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

func (r *createRefundRequest) Validate() error {
	if r.BookingID == "" {
		return fmt.Errorf("booking_id is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// --- checkout:create ---

type createCheckoutRequest struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

func (r *createCheckoutRequest) Validate() error {
	if r.BookingID == "" {
		return fmt.Errorf("booking_id is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if len(r.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	return nil
}

// --- campaigns:create ---

type createCampaignRequest struct {
	VendorID string  `json:"vendor_id"`
	Name     string  `json:"name"`
	Budget   float64 `json:"budget"`
	StartsAt string  `json:"starts_at"`

	startsAt time.Time
}

func (r *createCampaignRequest) Validate() error {
	if r.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if r.Budget <= 0 {
		return fmt.Errorf("budget must be positive")
	}
	var err error
	r.startsAt, err = time.Parse(dateLayout, r.StartsAt)
	if err != nil {
		return fmt.Errorf("starts_at must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// --- calendar:add_source ---

type addCalendarSourceRequest struct {
	VendorID string `json:"vendor_id"`
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

func (r *addCalendarSourceRequest) Validate() error {
	if r.VendorID == "" {
		return fmt.Errorf("vendor_id is required")
	}
	switch r.Provider {
	case "ical", "google", "airbnb", "booking":
	default:
		return fmt.Errorf("provider must be one of: ical, google, airbnb, booking")
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	return nil
}

// --- notifications:send ---

type sendNotificationRequest struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel"`
	Message   string `json:"message"`
}

func (r *sendNotificationRequest) Validate() error {
	if r.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	switch r.Channel {
	case "email", "sms":
	default:
		return fmt.Errorf("channel must be email or sms")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// RegisterAll прописывает все доменные действия в ядре.
func RegisterAll(c *Core, d Deps) {
	c.Register(&Handler{
		Action:      domain.ActionVendorsCreate,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req createVendorRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*createVendorRequest)
			now := time.Now().UTC()
			v := &domain.Vendor{
				ID:        uuid.New().String(),
				Name:      req.Name,
				Email:     req.Email,
				Status:    domain.VendorActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := d.Store.CreateVendor(ctx, v); err != nil {
				return nil, err
			}
			return v, nil
		},
		Target: func(_, out any) (string, string) {
			return "vendor", out.(*domain.Vendor).ID
		},
	})

	c.Register(&Handler{
		Action: domain.ActionVendorsSuspend,
		Decode: func(body []byte) (any, error) {
			var req suspendVendorRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*suspendVendorRequest)
			if err := d.Store.SetVendorStatus(ctx, req.VendorID, domain.VendorSuspended); err != nil {
				return nil, err
			}
			return d.Store.GetVendor(ctx, req.VendorID)
		},
		Target: func(raw, _ any) (string, string) {
			return "vendor", raw.(*suspendVendorRequest).VendorID
		},
	})

	c.Register(&Handler{
		Action:      domain.ActionBookingsCreate,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req createBookingRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Rule: func(ctx context.Context, raw any) error {
			req := raw.(*createBookingRequest)
			return d.Bookings.CheckPlacement(ctx, req.ServiceID, req.start, req.end, "")
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*createBookingRequest)
			svc, err := d.Store.GetService(ctx, req.ServiceID)
			if err != nil {
				return nil, err
			}
			now := time.Now().UTC()
			b := &domain.Booking{
				ID:            uuid.New().String(),
				ServiceID:     req.ServiceID,
				CustomerEmail: req.CustomerEmail,
				StartDate:     req.start,
				EndDate:       req.end,
				Status:        domain.BookingConfirmed,
				TotalPrice:    svc.Price,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := d.Store.CreateBooking(ctx, b); err != nil {
				return nil, err
			}
			return b, nil
		},
		Target: func(_, out any) (string, string) {
			return "booking", out.(*domain.Booking).ID
		},
	})

	c.Register(&Handler{
		Action: domain.ActionBookingsUpdate,
		Decode: func(body []byte) (any, error) {
			var req updateBookingRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Rule: func(ctx context.Context, raw any) error {
			req := raw.(*updateBookingRequest)
			if !req.moveDates {
				return nil
			}
			b, err := d.Store.GetBooking(ctx, req.BookingID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return &validate.RuleError{
						Code:   validate.CodeBookingNotFound,
						Reason: fmt.Sprintf("booking %s does not exist", req.BookingID),
					}
				}
				return err
			}
			// Собственная бронь исключается из проверки пересечений:
			// перенос дат почти всегда пересекается со старым диапазоном
			return d.Bookings.CheckPlacement(ctx, b.ServiceID, req.start, req.end, req.BookingID)
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*updateBookingRequest)
			b, err := d.Store.GetBooking(ctx, req.BookingID)
			if err != nil {
				return nil, err
			}
			if req.status != "" {
				b.Status = req.status
			}
			if req.moveDates {
				b.StartDate, b.EndDate = req.start, req.end
			}
			b.UpdatedAt = time.Now().UTC()
			if err := d.Store.UpdateBooking(ctx, b); err != nil {
				return nil, err
			}
			return b, nil
		},
		Target: func(raw, _ any) (string, string) {
			return "booking", raw.(*updateBookingRequest).BookingID
		},
	})

	c.Register(&Handler{
		Action: domain.ActionPricingUpdate,
		Decode: func(body []byte) (any, error) {
			var req updatePriceRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*updatePriceRequest)
			if err := d.Store.UpdateServicePrice(ctx, req.ServiceID, req.Price); err != nil {
				return nil, err
			}
			return d.Store.GetService(ctx, req.ServiceID)
		},
		Target: func(raw, _ any) (string, string) {
			return "service", raw.(*updatePriceRequest).ServiceID
		},
	})

	c.Register(&Handler{
		Action:      domain.ActionRefundsCreate,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req createRefundRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Rule: func(ctx context.Context, raw any) error {
			req := raw.(*createRefundRequest)
			return d.Refunds.Check(ctx, req.BookingID, req.Amount)
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*createRefundRequest)
			res, err := d.Payments.CreateRefund(ctx, payment.RefundRequest{
				BookingID: req.BookingID,
				Amount:    req.Amount,
				Reason:    req.Reason,
			})
			if err != nil {
				return nil, fmt.Errorf("payment refund: %w", err)
			}
			ref := &domain.Refund{
				ID:         uuid.New().String(),
				BookingID:  req.BookingID,
				Amount:     req.Amount,
				Reason:     req.Reason,
				ProviderID: res.RefundID,
				Mock:       res.Mock,
				CreatedAt:  time.Now().UTC(),
			}
			if err := d.Store.CreateRefund(ctx, ref); err != nil {
				return nil, err
			}
			b, err := d.Store.GetBooking(ctx, req.BookingID)
			if err != nil {
				return nil, err
			}
			b.Status = domain.BookingRefunded
			b.UpdatedAt = time.Now().UTC()
			if err := d.Store.UpdateBooking(ctx, b); err != nil {
				return nil, err
			}
			return ref, nil
		},
		Target: func(raw, _ any) (string, string) {
			return "booking", raw.(*createRefundRequest).BookingID
		},
	})

	c.Register(&Handler{
		Action:      domain.ActionCheckoutCreate,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req createCheckoutRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*createCheckoutRequest)
			res, err := d.Payments.CreateCheckout(ctx, payment.CheckoutRequest{
				BookingID: req.BookingID,
				Amount:    req.Amount,
				Currency:  req.Currency,
			})
			if err != nil {
				return nil, fmt.Errorf("payment checkout: %w", err)
			}
			s := &domain.CheckoutSession{
				ID:         uuid.New().String(),
				BookingID:  req.BookingID,
				Amount:     req.Amount,
				Currency:   req.Currency,
				URL:        res.URL,
				ProviderID: res.SessionID,
				Mock:       res.Mock,
				CreatedAt:  time.Now().UTC(),
			}
			if err := d.Store.CreateCheckoutSession(ctx, s); err != nil {
				return nil, err
			}
			return s, nil
		},
		Target: func(_, out any) (string, string) {
			return "checkout_session", out.(*domain.CheckoutSession).ID
		},
	})

	c.Register(&Handler{
		Action:      domain.ActionCampaignsCreate,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req createCampaignRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*createCampaignRequest)
			cmp := &domain.Campaign{
				ID:        uuid.New().String(),
				VendorID:  req.VendorID,
				Name:      req.Name,
				Budget:    req.Budget,
				StartsAt:  req.startsAt,
				CreatedAt: time.Now().UTC(),
			}
			if err := d.Store.CreateCampaign(ctx, cmp); err != nil {
				return nil, err
			}
			return cmp, nil
		},
		Target: func(_, out any) (string, string) {
			return "campaign", out.(*domain.Campaign).ID
		},
	})

	c.Register(&Handler{
		Action:      domain.ActionCalendarAddSource,
		FreshStatus: http.StatusCreated,
		Decode: func(body []byte) (any, error) {
			var req addCalendarSourceRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*addCalendarSourceRequest)
			cs := &domain.CalendarSource{
				ID:        uuid.New().String(),
				VendorID:  req.VendorID,
				Provider:  req.Provider,
				URL:       req.URL,
				CreatedAt: time.Now().UTC(),
			}
			if err := d.Store.CreateCalendarSource(ctx, cs); err != nil {
				return nil, err
			}
			return cs, nil
		},
		Target: func(_, out any) (string, string) {
			return "calendar_source", out.(*domain.CalendarSource).ID
		},
	})

	c.Register(&Handler{
		Action: domain.ActionNotificationsSend,
		Decode: func(body []byte) (any, error) {
			var req sendNotificationRequest
			if err := decodeStrict(body, &req); err != nil {
				return nil, err
			}
			return &req, req.Validate()
		},
		Execute: func(ctx context.Context, raw any) (any, error) {
			req := raw.(*sendNotificationRequest)
			n := &domain.Notification{
				ID:        uuid.New().String(),
				Recipient: req.Recipient,
				Channel:   req.Channel,
				Message:   req.Message,
				CreatedAt: time.Now().UTC(),
			}
			if err := d.Store.CreateNotification(ctx, n); err != nil {
				return nil, err
			}
			return n, nil
		},
		Target: func(_, out any) (string, string) {
			return "notification", out.(*domain.Notification).ID
		},
	})
}

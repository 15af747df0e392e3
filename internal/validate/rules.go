package validate

/*
Бизнес-валидаторы — отдельный слой от схемной валидации: схема проверяет
форму, здесь проверяются предусловия по текущему состоянию домена.
Валидаторы чисты относительно своих входов: читают хранилище, но никогда
не мутируют состояние. Выполняются до мутации и только на свежем исполнении —
replay по Idempotency-Key отдает сохраненный результат, не трогая правила.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/storage"
)

// Машинные коды отказов бизнес-правил.
const (
	CodeServiceUnavailable     = "SERVICE_UNAVAILABLE"
	CodeBookingConflict        = "BOOKING_CONFLICT"
	CodeBookingNotFound        = "BOOKING_NOT_FOUND"
	CodeRefundValidationFailed = "REFUND_VALIDATION_FAILED"
)

// RuleError — отказ бизнес-правила: машинный код + человекочитаемая причина.
type RuleError struct {
	Code   string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("business rule rejected (%s): %s", e.Code, e.Reason)
}

// BookingReader — read-only выборки, нужные правилам бронирования.
type BookingReader interface {
	GetService(ctx context.Context, id string) (*domain.TourService, error)
	HasConfirmedOverlap(ctx context.Context, serviceID string, start, end time.Time, excludeBookingID string) (bool, error)
}

type BookingRules struct {
	store BookingReader
}

func NewBookingRules(store BookingReader) *BookingRules {
	return &BookingRules{store: store}
}

// CheckPlacement отклоняет размещение брони, если услуга недоступна или
// диапазон дат пересекается с чужой подтвержденной бронью той же услуги.
// Для создания excludeBookingID пуст; при переносе дат сюда передается ID
// самой брони, чтобы она не конфликтовала сама с собой.
func (r *BookingRules) CheckPlacement(ctx context.Context, serviceID string, start, end time.Time, excludeBookingID string) error {
	svc, err := r.store.GetService(ctx, serviceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &RuleError{Code: CodeServiceUnavailable, Reason: fmt.Sprintf("service %s does not exist", serviceID)}
		}
		return fmt.Errorf("validate: load service: %w", err)
	}
	if !svc.Available {
		return &RuleError{Code: CodeServiceUnavailable, Reason: fmt.Sprintf("service %s is marked unavailable", serviceID)}
	}

	conflict, err := r.store.HasConfirmedOverlap(ctx, serviceID, start, end, excludeBookingID)
	if err != nil {
		return fmt.Errorf("validate: overlap check: %w", err)
	}
	if conflict {
		return &RuleError{
			Code:   CodeBookingConflict,
			Reason: fmt.Sprintf("date range conflicts with a confirmed booking for service %s", serviceID),
		}
	}
	return nil
}

// RefundReader — read-only выборки, нужные правилам возврата.
type RefundReader interface {
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
}

type RefundRules struct {
	store RefundReader
}

func NewRefundRules(store RefundReader) *RefundRules {
	return &RefundRules{store: store}
}

// Check отклоняет возврат, если брони нет, ее статус не допускает возврат
// или запрошенная сумма превышает исходную стоимость.
func (r *RefundRules) Check(ctx context.Context, bookingID string, amount float64) error {
	b, err := r.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &RuleError{Code: CodeBookingNotFound, Reason: fmt.Sprintf("booking %s does not exist", bookingID)}
		}
		return fmt.Errorf("validate: load booking: %w", err)
	}

	if !b.Status.Refundable() {
		return &RuleError{
			Code:   CodeRefundValidationFailed,
			Reason: fmt.Sprintf("booking %s is in status %s and is not refundable", bookingID, b.Status),
		}
	}
	if amount > b.TotalPrice {
		return &RuleError{
			Code:   CodeRefundValidationFailed,
			Reason: fmt.Sprintf("refund amount %.2f exceeds the original charge %.2f", amount, b.TotalPrice),
		}
	}
	return nil
}

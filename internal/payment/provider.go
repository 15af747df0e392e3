package payment

import "context"

// Provider — внешний платежный провайдер. Его собственная леджер-семантика
// вне зоны ответственности шлюза; шлюз лишь вызывает и прокидывает результат.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type CheckoutRequest struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

type CheckoutResult struct {
	SessionID string  `json:"session_id"`
	URL       string  `json:"url"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Mock      bool    `json:"mock"` // true — провайдер не сконфигурирован, реального чарджа нет
}

type RefundRequest struct {
	BookingID string  `json:"booking_id"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
}

type RefundResult struct {
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
	Mock     bool    `json:"mock"`
}

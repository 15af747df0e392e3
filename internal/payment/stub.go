package payment

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stub — провайдер по умолчанию, когда реальный не сконфигурирован.
// Finance-действия обязаны деградировать в явно помеченный mock-результат,
// а не молча выглядеть как реальный чардж: каждый результат несет Mock=true
// и mock_-префиксы идентификаторов.
type Stub struct {
	logger *zap.Logger
}

func NewStub(logger *zap.Logger) *Stub {
	return &Stub{logger: logger.Named("payment-stub")}
}

func (s *Stub) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	sessionID := "mock_cs_" + uuid.New().String()
	s.logger.Warn("payment provider not configured, returning mock checkout session",
		zap.String("booking_id", req.BookingID), zap.String("session_id", sessionID))

	return &CheckoutResult{
		SessionID: sessionID,
		URL:       "https://payments.invalid/mock/" + sessionID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Mock:      true,
	}, nil
}

func (s *Stub) CreateRefund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	refundID := "mock_re_" + uuid.New().String()
	s.logger.Warn("payment provider not configured, returning mock refund",
		zap.String("booking_id", req.BookingID), zap.String("refund_id", refundID))

	return &RefundResult{
		RefundID: refundID,
		Amount:   req.Amount,
		Status:   "simulated",
		Mock:     true,
	}, nil
}

package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tourbase/tourbase/internal/infra"
)

// Reliable оборачивает реального провайдера в защитный контур:
// rate limiter -> circuit breaker -> retries -> per-call timeout.
// Stub в обертке не нуждается; сюда кладется провайдер из PaymentConfig,
// когда платформа подключит реальную интеграцию.
type Reliable struct {
	next    Provider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewReliable(next Provider, logger *zap.Logger) *Reliable {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // время, через которое CB попробует закрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Reliable{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		logger:  logger.Named("payment"),
	}
}

func (w *Reliable) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var out *CheckoutResult
	err := w.call(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = w.next.CreateCheckout(callCtx, req)
		return callErr
	})
	return out, err
}

func (w *Reliable) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out *RefundResult
	err := w.call(ctx, func(callCtx context.Context) error {
		var callErr error
		out, callErr = w.next.CreateRefund(callCtx, req)
		return callErr
	})
	return out, err
}

func (w *Reliable) call(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("payment: rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker поверх ретраев
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(retry.BackOffDelay),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return fn(tCtx)
		})
		return nil, retryErr
	})
	return err
}

// NewFromConfig выбирает провайдера по конфигурации. Пустой Provider —
// платежи не подключены, работаем на Stub.
func NewFromConfig(cfg infra.PaymentConfig, logger *zap.Logger) Provider {
	switch cfg.Provider {
	case "":
		return NewStub(logger)
	default:
		// Реальные интеграции подключаются здесь; до тех пор любое незнакомое
		// значение — это ошибка конфигурации, о которой честно говорим и
		// деградируем в явный mock вместо тихого "реального" успеха.
		logger.Error("unknown payment provider in config, falling back to stub",
			zap.String("provider", cfg.Provider))
		return NewStub(logger)
	}
}

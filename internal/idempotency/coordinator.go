package idempotency

/*
Координатор идемпотентности гарантирует at-most-once исполнение мутации для
пары (agentID, key) и replay исходного результата на повторах.

Ключевой контракт — «атомарный claim»: запись претензии на ключ происходит
одним неделимым примитивом хранилища (insert-if-absent / unique constraint)
ДО запуска мутации. Наивный check-then-insert под конкурентными ретраями —
это race condition: два запроса одновременно видят «записи нет» и оба
исполняют side effect (двойная бронь, двойной возврат денег).

Проигравший гонку не исполняет мутацию повторно никогда: он либо дожидается
результата победителя (bounded backoff), либо получает ErrInFlight и уходит
на ретрай.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/domain"
)

// ErrInFlight: победитель гонки еще исполняет мутацию, бюджет ожидания
// исчерпан. Для вызывающего это retryable-исход (HTTP 409).
var ErrInFlight = errors.New("idempotency: execution for this key is in flight")

// State — состояние претензии на ключ.
type State string

const (
	// StateClaimed — ключ только что захвачен этим запросом; можно исполнять.
	StateClaimed State = "CLAIMED"
	// StatePending — ключ захвачен другим запросом, результата еще нет.
	StatePending State = "PENDING"
	// StateCompleted — результат уже сохранен; исполнять нельзя.
	StateCompleted State = "COMPLETED"
)

// Claim — ответ хранилища на попытку захвата ключа.
type Claim struct {
	State  State
	Result []byte // заполнен только для StateCompleted
}

// Store — единственное место подсистемы, обязанное быть атомарным между
// конкурентными вызовами. Claim для отсутствующего ключа должен быть
// single-shot примитивом (unique-constraint insert или эквивалент).
type Store interface {
	Claim(ctx context.Context, agentID, key string, action domain.ActionName) (Claim, error)
	Complete(ctx context.Context, agentID, key string, result []byte) error
	Release(ctx context.Context, agentID, key string) error
}

type Coordinator struct {
	store     Store
	claimWait time.Duration
	logger    *zap.Logger
}

func NewCoordinator(store Store, claimWait time.Duration, logger *zap.Logger) *Coordinator {
	if claimWait <= 0 {
		claimWait = 2 * time.Second
	}
	return &Coordinator{store: store, claimWait: claimWait, logger: logger.Named("idempotency")}
}

// Execute реализует контракт withIdempotency:
//   - key пуст — fn исполняется безусловно, ничего не записывается;
//   - запись существует — сохраненный результат возвращается verbatim,
//     cached = true, fn не вызывается;
//   - ключ захвачен — fn исполняется; успех фиксируется Complete,
//     ошибка откатывает претензию (Release), чтобы честный ретрай с тем же
//     ключом мог исполниться заново.
func (c *Coordinator) Execute(
	ctx context.Context,
	agentID, key string,
	action domain.ActionName,
	fn func(ctx context.Context) ([]byte, error),
) (result []byte, cached bool, err error) {
	if key == "" {
		result, err = fn(ctx)
		return result, false, err
	}

	cl, err := c.store.Claim(ctx, agentID, key, action)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: claim: %w", err)
	}

	switch cl.State {
	case StateCompleted:
		return cl.Result, true, nil

	case StateClaimed:
		return c.runClaimed(ctx, agentID, key, fn)

	case StatePending:
		stored, reclaimed, err := c.awaitWinner(ctx, agentID, key, action)
		if err != nil {
			return nil, false, err
		}
		if reclaimed {
			// Победитель упал и освободил ключ, claim перешел к нам —
			// записи нет, исполняем честно.
			return c.runClaimed(ctx, agentID, key, fn)
		}
		return stored, true, nil

	default:
		return nil, false, fmt.Errorf("idempotency: unexpected claim state %q", cl.State)
	}
}

// runClaimed исполняет мутацию под захваченным ключом. После захвата fn
// доводится до конца даже при обрыве HTTP-запроса: брошенная claimed-запись
// без результата заблокировала бы ключ навсегда.
func (c *Coordinator) runClaimed(
	ctx context.Context,
	agentID, key string,
	fn func(ctx context.Context) ([]byte, error),
) ([]byte, bool, error) {
	execCtx := context.WithoutCancel(ctx)

	result, execErr := fn(execCtx)
	if execErr != nil {
		// Провал не персистится: ключ освобождается для честного ретрая
		if relErr := c.store.Release(execCtx, agentID, key); relErr != nil {
			c.logger.Error("failed to release claim after execution failure",
				zap.String("agent_id", agentID), zap.String("key", key), zap.Error(relErr))
		}
		return nil, false, execErr
	}

	if err := c.store.Complete(execCtx, agentID, key, result); err != nil {
		// Side effect уже случился — результат отдаем, но replay-гарантия
		// для этого ключа потеряна, фиксируем это в логе как инцидент
		c.logger.Error("failed to persist idempotency result",
			zap.String("agent_id", agentID), zap.String("key", key), zap.Error(err))
	}
	return result, false, nil
}

// awaitWinner ждет результат чужого in-flight исполнения с backoff.
// Возвращает либо сохраненный результат, либо reclaimed = true, если за время
// ожидания ключ освободился и очередной Claim достался нам.
func (c *Coordinator) awaitWinner(ctx context.Context, agentID, key string, action domain.ActionName) (stored []byte, reclaimed bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.claimWait)
	defer cancel()

	r := retry.New(
		retry.Context(waitCtx),
		retry.Attempts(0), // до успеха или истечения контекста
		retry.Delay(25*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)

	err = r.Do(func() error {
		cl, claimErr := c.store.Claim(waitCtx, agentID, key, action)
		if claimErr != nil {
			return claimErr
		}
		switch cl.State {
		case StateCompleted:
			stored = cl.Result
			return nil
		case StateClaimed:
			reclaimed = true
			return nil
		default:
			return ErrInFlight
		}
	})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrInFlight) {
			return nil, false, ErrInFlight
		}
		return nil, false, fmt.Errorf("idempotency: await in-flight execution: %w", err)
	}
	return stored, reclaimed, nil
}

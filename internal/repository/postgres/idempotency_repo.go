package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/idempotency"
)

/*
Хранилище ключей идемпотентности. Атомарность claim держится на unique
constraint (agent_id, idem_key): INSERT ... ON CONFLICT DO NOTHING —
ровно один из конкурентных запросов получит RowsAffected = 1. Никаких
advisory-локов и SELECT FOR UPDATE на hot path.
*/

// Claim пытается захватить ключ одним неделимым INSERT.
func (r *Repo) Claim(ctx context.Context, agentID, key string, action domain.ActionName) (idempotency.Claim, error) {
	insert := `
		INSERT INTO idempotency_keys (agent_id, idem_key, action, state, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (agent_id, idem_key) DO NOTHING`

	tag, err := r.pool.Exec(ctx, insert, agentID, key, action, idempotency.StatePending)
	if err != nil {
		return idempotency.Claim{}, fmt.Errorf("postgres: claim insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return idempotency.Claim{State: idempotency.StateClaimed}, nil
	}

	// Ключ уже есть: либо завершен (отдаем результат), либо pending
	var state idempotency.State
	var result []byte
	err = r.pool.QueryRow(ctx,
		`SELECT state, result FROM idempotency_keys WHERE agent_id = $1 AND idem_key = $2`,
		agentID, key,
	).Scan(&state, &result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Победитель успел сделать Release между нашим INSERT и SELECT —
			// следующий Claim из awaitWinner захватит ключ
			return idempotency.Claim{State: idempotency.StatePending}, nil
		}
		return idempotency.Claim{}, fmt.Errorf("postgres: claim lookup: %w", err)
	}

	if state == idempotency.StateCompleted {
		return idempotency.Claim{State: idempotency.StateCompleted, Result: result}, nil
	}
	return idempotency.Claim{State: idempotency.StatePending}, nil
}

// Complete фиксирует результат свежего исполнения. Переход только из PENDING.
func (r *Repo) Complete(ctx context.Context, agentID, key string, result []byte) error {
	query := `
		UPDATE idempotency_keys
		SET state = $1, result = $2, completed_at = NOW()
		WHERE agent_id = $3 AND idem_key = $4 AND state = $5`

	tag, err := r.pool.Exec(ctx, query,
		idempotency.StateCompleted, result, agentID, key, idempotency.StatePending)
	if err != nil {
		return fmt.Errorf("postgres: complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: no pending claim for agent %s", agentID)
	}
	return nil
}

// Release снимает претензию после провала исполнения: честный ретрай с тем же
// ключом должен исполниться заново. Завершенные записи Release не трогает.
func (r *Repo) Release(ctx context.Context, agentID, key string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE agent_id = $1 AND idem_key = $2 AND state = $3`,
		agentID, key, idempotency.StatePending)
	if err != nil {
		return fmt.Errorf("postgres: release: %w", err)
	}
	return nil
}

// Sweep удаляет завершенные записи старше ttl. Pending не трогаем: брошенный
// pending — признак инцидента, а не мусор.
func (r *Repo) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE state = $1 AND completed_at < NOW() - $2::interval`,
		idempotency.StateCompleted, ttl.String())
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

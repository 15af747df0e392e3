package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tourbase/tourbase/internal/audit"
)

// WriteBatch — пакетная вставка записей аудита (Bulk Insert одним запросом).
// Таблица append-only: UPDATE/DELETE по audit_log в коде не существуют.
func (r *Repo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 13
	var sb strings.Builder
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13))

		vals = append(vals,
			e.ID, e.TraceID, e.AgentID, e.Action, e.Outcome,
			e.TargetType, e.TargetID, e.RequestFingerprint, e.ResultFingerprint,
			e.Reason, e.IdempotencyKey, e.Timestamp, e.DurationMs,
		)
	}

	query := `INSERT INTO audit_log
		(id, trace_id, agent_id, action, outcome, target_type, target_id,
		 request_fingerprint, result_fingerprint, reason, idempotency_key, timestamp, duration_ms)
		VALUES ` + sb.String()

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: audit batch insert: %w", err)
	}
	return nil
}

// RecentEntries — последние записи для операторского API (расследования).
func (r *Repo) RecentEntries(ctx context.Context, agentID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, trace_id, agent_id, action, outcome, target_type, target_id,
		       request_fingerprint, result_fingerprint, reason, idempotency_key, timestamp, duration_ms
		FROM audit_log
		WHERE ($1 = '' OR agent_id = $1)
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.AgentID, &e.Action, &e.Outcome,
			&e.TargetType, &e.TargetID, &e.RequestFingerprint, &e.ResultFingerprint,
			&e.Reason, &e.IdempotencyKey, &e.Timestamp, &e.DurationMs,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

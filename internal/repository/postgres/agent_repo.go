package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tourbase/tourbase/internal/domain"
)

// CreateAgent сохраняет провиженный агент. Raw-ключ сюда не попадает никогда —
// только bcrypt-хэш и lookup-префикс.
func (r *Repo) CreateAgent(ctx context.Context, a *domain.Agent) error {
	query := `
		INSERT INTO agents (id, name, role, key_hash, key_prefix, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Name, a.Role, a.KeyHash, a.KeyPrefix, a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create agent: %w", err)
	}
	return nil
}

// GetAgentByKeyPrefix — lookup верифаера на hot path аутентификации.
// (nil, nil) для неизвестного префикса: unauthenticated — не ошибка хранилища.
func (r *Repo) GetAgentByKeyPrefix(ctx context.Context, prefix string) (*domain.Agent, error) {
	query := `
		SELECT id, name, role, key_hash, key_prefix, active, created_at, updated_at
		FROM agents WHERE key_prefix = $1`

	a := &domain.Agent{}
	err := r.pool.QueryRow(ctx, query, prefix).Scan(
		&a.ID, &a.Name, &a.Role, &a.KeyHash, &a.KeyPrefix, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// SetAgentActive включает/выключает агента (kill-switch через отзыв).
func (r *Repo) SetAgentActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE agents SET active = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("postgres: set agent active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("postgres: agent %s not found", id)
	}
	return nil
}

func (r *Repo) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	query := `
		SELECT id, name, role, key_prefix, active, created_at, updated_at
		FROM agents ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a := &domain.Agent{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.KeyPrefix, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RevokedAgentIDs — снимок отозванных агентов для warmup L2-кэша в Redis.
func (r *Repo) RevokedAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM agents WHERE active = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

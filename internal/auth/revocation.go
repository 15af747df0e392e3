package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/infra"
)

// RevocationCache — L1 (RAM) множество отозванных агентов поверх L2 (Redis).
// Отзыв ключа оператором должен действовать на всех инстансах шлюза сразу,
// не дожидаясь чтения из Postgres.
type RevocationCache struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewRevocationCache(rdb *redis.Client, logger *zap.Logger) *RevocationCache {
	return &RevocationCache{
		revoked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.Named("revocation"),
	}
}

// Init загружает текущее множество отозванных агентов при старте сервиса.
func (c *RevocationCache) Init(ctx context.Context) error {
	ids, err := c.rdb.SMembers(ctx, infra.RedisKeyRevokedAgents).Result()
	if err != nil {
		return fmt.Errorf("revocation: init from redis: %w", err)
	}
	c.replace(ids)
	return nil
}

// Warmup синхронизирует L1 и L2 со списком из БД (источник правды при старте).
// Распределенная блокировка (SetNX) — чтобы Redis наполнял только один инстанс.
func (c *RevocationCache) Warmup(ctx context.Context, ids []string) error {
	c.replace(ids)

	ok, err := c.rdb.SetNX(ctx, infra.RedisKeyLockRevokedWarmup, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо сеть, либо другой инстанс уже греет кэш
	}

	count, err := c.rdb.SCard(ctx, infra.RedisKeyRevokedAgents).Result()
	if err != nil {
		count = 0
		c.logger.Warn("could not check redis set size, proceeding with warm-up", zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		c.logger.Info("redis revocation set is empty, performing warm-up from DB",
			zap.Int("count", len(ids)))
		pipe := c.rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, infra.RedisKeyRevokedAgents, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("revocation: warm-up redis: %w", err)
		}
	}
	return nil
}

func (c *RevocationCache) IsRevoked(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.revoked[agentID]
	return ok
}

func (c *RevocationCache) markRevoked(agentID string, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if revoked {
		c.revoked[agentID] = struct{}{}
	} else {
		delete(c.revoked, agentID)
	}
}

func (c *RevocationCache) replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	c.mu.Lock()
	c.revoked = next
	c.mu.Unlock()
}

// PublishRevocation транслирует решение оператора всем инстансам шлюза
// и фиксирует его в L2. Формат сигнала: "agent_id:true|false".
func PublishRevocation(ctx context.Context, rdb *redis.Client, agentID string, revoked bool) error {
	if revoked {
		if err := rdb.SAdd(ctx, infra.RedisKeyRevokedAgents, agentID).Err(); err != nil {
			return fmt.Errorf("revocation: persist to redis: %w", err)
		}
	} else {
		if err := rdb.SRem(ctx, infra.RedisKeyRevokedAgents, agentID).Err(); err != nil {
			return fmt.Errorf("revocation: remove from redis: %w", err)
		}
	}

	payload := fmt.Sprintf("%s:%t", agentID, revoked)
	if err := rdb.Publish(ctx, infra.RedisChanRevocation, payload).Err(); err != nil {
		return fmt.Errorf("revocation: publish signal: %w", err)
	}
	return nil
}

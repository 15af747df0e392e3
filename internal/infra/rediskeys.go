package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных платформы в Redis
	RedisNamespace = "tourbase"
)

// Ключи для Sets (состояние)
const (
	RedisKeyRevokedAgents     = RedisNamespace + ":agents:revoked_set"
	RedisKeyLockRevokedWarmup = RedisNamespace + ":lock:warmup:revoked"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRevocation — канал трансляции отзыва агентских ключей.
	RedisChanRevocation = RedisNamespace + ":agents:revocation-signal"
)

// WarmupLockKey — генератор ключей для блокировок прогрева.
func WarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tourbase/tourbase/internal/domain"
)

// ErrUnauthenticated возвращается при неизвестном, отозванном или битом ключе.
// Наружу уходит один и тот же код — детали не раскрываем.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

const (
	keyPrefix    = "tb_"
	keyRandLen   = 16 // 16 байт = 32 hex-символа
	keyPrefixLen = 8  // первые 8 символов ключа — lookup-индекс
)

// AgentSource — откуда верифаер достает запись агента по префиксу ключа.
type AgentSource interface {
	GetAgentByKeyPrefix(ctx context.Context, prefix string) (*domain.Agent, error)
}

// RevocationSource — L1-кэш отозванных агентов (см. revocation.go).
type RevocationSource interface {
	IsRevoked(agentID string) bool
}

// Verifier резолвит opaque-ключ агента в запись Agent.
// Секрет в открытом виде нигде не хранится и не сравнивается: lookup по
// префиксу, затем bcrypt-сравнение с сохраненным хэшем.
type Verifier struct {
	repo    AgentSource
	revoked RevocationSource // может быть nil (single-node, без Redis)
	logger  *zap.Logger
}

func NewVerifier(repo AgentSource, revoked RevocationSource, logger *zap.Logger) *Verifier {
	return &Verifier{repo: repo, revoked: revoked, logger: logger.Named("verifier")}
}

// Verify выполняется до всех остальных компонентов шлюза; любой провал
// коротко замыкает запрос без бизнес-логики.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (*domain.Agent, error) {
	if len(rawKey) < keyPrefixLen || rawKey[:len(keyPrefix)] != keyPrefix {
		return nil, ErrUnauthenticated
	}

	agent, err := v.repo.GetAgentByKeyPrefix(ctx, rawKey[:keyPrefixLen])
	if err != nil || agent == nil {
		return nil, ErrUnauthenticated
	}

	if !agent.Active {
		return nil, ErrUnauthenticated
	}
	if v.revoked != nil && v.revoked.IsRevoked(agent.ID) {
		// Отзыв мог еще не доехать до Postgres — L1 кэш главнее
		return nil, ErrUnauthenticated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.KeyHash), []byte(rawKey)); err != nil {
		v.logger.Warn("agent key hash mismatch", zap.String("prefix", SafePrefix(rawKey)))
		return nil, ErrUnauthenticated
	}

	return agent, nil
}

// GenerateKey создает новый ключ агента: "tb_" + 32 hex.
// Raw-ключ показывается оператору один раз; хранится только bcrypt-хэш.
func GenerateKey(bcryptCost int) (raw, hash, prefix string, err error) {
	buf := make([]byte, keyRandLen)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate key: %w", err)
	}
	raw = keyPrefix + hex.EncodeToString(buf)

	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("auth: hash key: %w", err)
	}

	return raw, string(h), raw[:keyPrefixLen], nil
}

// SafePrefix — безопасное для логов представление ключа (только префикс).
func SafePrefix(rawKey string) string {
	if len(rawKey) < keyPrefixLen {
		return "malformed"
	}
	return rawKey[:keyPrefixLen]
}

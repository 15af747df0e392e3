package operator

/*
Операторская плоскость управления: логин оператора, провижининг агентских
ключей, отзыв и просмотр аудита. Агенты сюда доступа не имеют — периметр
закрыт RS256-токеном оператора, не агентскими ключами.
*/

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tourbase/tourbase/internal/audit"
	"github.com/tourbase/tourbase/internal/auth"
	"github.com/tourbase/tourbase/internal/domain"
	infraauth "github.com/tourbase/tourbase/internal/infra/auth"
)

var ErrInvalidCredentials = errors.New("operator: invalid credentials")

// AgentAdmin — операции провижининга поверх Postgres.
type AgentAdmin interface {
	CreateAgent(ctx context.Context, a *domain.Agent) error
	SetAgentActive(ctx context.Context, id string, active bool) error
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// AuditReader — выборки аудита для расследований.
type AuditReader interface {
	RecentEntries(ctx context.Context, agentID string, limit int) ([]audit.Entry, error)
}

type Service struct {
	repo       AgentAdmin
	auditRepo  AuditReader
	rdb        *redis.Client // nil в single-node режиме: отзыв действует локально через БД
	privateKey *rsa.PrivateKey
	tokenTTL   time.Duration
	bcryptCost int
	logger     *zap.Logger
}

func NewService(repo AgentAdmin, auditRepo AuditReader, rdb *redis.Client, privateKey *rsa.PrivateKey, tokenTTL time.Duration, bcryptCost int, logger *zap.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		auditRepo:  auditRepo,
		rdb:        rdb,
		privateKey: privateKey,
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		logger:     logger.Named("operator"),
	}
}

// GenerateToken аутентифицирует оператора и выдает RS256-токен.
func (s *Service) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil || user == nil {
		// Unknown user и db error наружу неразличимы
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	expiresAt := time.Now().Add(s.tokenTTL)
	claims := &domain.OperatorClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tourbase-operator",
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("operator: sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

// ProvisionedAgent — ответ на провижининг. RawKey показывается ровно один раз.
type ProvisionedAgent struct {
	Agent  *domain.Agent `json:"agent"`
	RawKey string        `json:"raw_key"`
}

// ProvisionAgent создает агента с новым ключом. В БД уходит только хэш.
func (s *Service) ProvisionAgent(ctx context.Context, name, roleStr string) (*ProvisionedAgent, error) {
	role, err := domain.ParseRole(roleStr)
	if err != nil {
		return nil, err
	}

	raw, hash, prefix, err := auth.GenerateKey(s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &domain.Agent{
		ID:        uuid.New().String(),
		Name:      name,
		Role:      role,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAgent(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("agent provisioned",
		zap.String("agent_id", a.ID),
		zap.String("role", string(a.Role)),
		zap.String("operator_id", infraauth.UserIDFrom(ctx)))
	return &ProvisionedAgent{Agent: a, RawKey: raw}, nil
}

// RevokeAgent выключает агента в БД и рассылает сигнал всем инстансам шлюза.
// Порядок важен: сначала источник правды (Postgres), потом fan-out.
func (s *Service) RevokeAgent(ctx context.Context, agentID string) error {
	if err := s.repo.SetAgentActive(ctx, agentID, false); err != nil {
		return err
	}

	if s.rdb != nil {
		if err := auth.PublishRevocation(ctx, s.rdb, agentID, true); err != nil {
			// БД уже обновлена — инстансы подхватят отзыв после рестарта;
			// но мгновенный fan-out не случился, это инцидент
			s.logger.Error("revocation broadcast failed", zap.String("agent_id", agentID), zap.Error(err))
			return err
		}
	}

	s.logger.Info("agent revoked",
		zap.String("agent_id", agentID),
		zap.String("operator_id", infraauth.UserIDFrom(ctx)))
	return nil
}

func (s *Service) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	return s.repo.ListAgents(ctx)
}

func (s *Service) AuditEntries(ctx context.Context, agentID string, limit int) ([]audit.Entry, error) {
	return s.auditRepo.RecentEntries(ctx, agentID, limit)
}

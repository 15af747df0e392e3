package operator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tourbase/tourbase/internal/domain"
	infraauth "github.com/tourbase/tourbase/internal/infra/auth"
)

type stubAdmin struct {
	users  map[string]*domain.User
	agents []*domain.Agent
}

func (s *stubAdmin) CreateAgent(_ context.Context, a *domain.Agent) error {
	s.agents = append(s.agents, a)
	return nil
}

func (s *stubAdmin) SetAgentActive(_ context.Context, id string, active bool) error {
	for _, a := range s.agents {
		if a.ID == id {
			a.Active = active
		}
	}
	return nil
}

func (s *stubAdmin) ListAgents(_ context.Context) ([]*domain.Agent, error) {
	return s.agents, nil
}

func (s *stubAdmin) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	return s.users[username], nil
}

func testService(t *testing.T, tokenTTL time.Duration, bcryptCost int) (*Service, *stubAdmin, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	admin := &stubAdmin{users: map[string]*domain.User{
		"ops": {ID: "user-1", Username: "ops", PasswordHash: string(hash)},
	}}
	return NewService(admin, nil, nil, key, tokenTTL, bcryptCost, zap.NewNop()), admin, key
}

func TestGenerateToken_UsesConfiguredTTL(t *testing.T) {
	svc, _, key := testService(t, time.Hour, bcrypt.MinCost)

	resp, err := svc.GenerateToken(context.Background(), "ops", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.InDelta(t, int64(3600), resp.ExpiresIn, 5)

	// Токен валиден и несет ID оператора
	claims, err := infraauth.NewBaseValidator(&key.PublicKey).VerifyToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 10*time.Second)
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	svc, _, _ := testService(t, time.Hour, bcrypt.MinCost)

	for name, creds := range map[string][2]string{
		"unknown user":   {"nobody", "s3cret"},
		"wrong password": {"ops", "wrong"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.GenerateToken(context.Background(), creds[0], creds[1])
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestProvisionAgent_UsesConfiguredBcryptCost(t *testing.T) {
	svc, admin, _ := testService(t, time.Hour, bcrypt.MinCost+1)

	out, err := svc.ProvisionAgent(context.Background(), "booking bot", "booking_manager")
	require.NoError(t, err)
	require.Len(t, admin.agents, 1)

	stored := admin.agents[0]
	assert.Equal(t, domain.RoleBookingManager, stored.Role)
	assert.True(t, stored.Active)
	assert.Equal(t, out.RawKey[:8], stored.KeyPrefix)

	cost, err := bcrypt.Cost([]byte(stored.KeyHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(out.RawKey)))
}

func TestProvisionAgent_RejectsUnknownRole(t *testing.T) {
	svc, admin, _ := testService(t, time.Hour, bcrypt.MinCost)

	_, err := svc.ProvisionAgent(context.Background(), "bot", "SUPERADMIN")
	assert.Error(t, err)
	assert.Empty(t, admin.agents)
}

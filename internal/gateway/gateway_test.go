package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tourbase/tourbase/internal/audit"
	"github.com/tourbase/tourbase/internal/auth"
	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/idempotency"
	"github.com/tourbase/tourbase/internal/payment"
	"github.com/tourbase/tourbase/internal/policy"
	"github.com/tourbase/tourbase/internal/storage"
	"github.com/tourbase/tourbase/internal/validate"
)

// agentStore — in-memory AgentSource для тестов.
type agentStore struct {
	byPrefix map[string]*domain.Agent
}

func (s *agentStore) GetAgentByKeyPrefix(_ context.Context, prefix string) (*domain.Agent, error) {
	a, ok := s.byPrefix[prefix]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

type testEnv struct {
	srv      *httptest.Server
	store    *storage.Memory
	sink     *audit.MemorySink
	recorder *audit.Recorder
	keys     map[domain.Role]string
}

// drain останавливает рекордер, дожидаясь сброса буфера аудита.
func (e *testEnv) drain() { e.recorder.Stop() }

func newTestEnv(t *testing.T, roles ...domain.Role) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	agents := &agentStore{byPrefix: make(map[string]*domain.Agent)}
	keys := make(map[domain.Role]string, len(roles))
	for _, role := range roles {
		raw, hash, prefix, err := auth.GenerateKey(bcrypt.MinCost)
		require.NoError(t, err)
		agents.byPrefix[prefix] = &domain.Agent{
			ID:        "agent-" + string(role),
			Name:      string(role) + " bot",
			Role:      role,
			KeyHash:   hash,
			KeyPrefix: prefix,
			Active:    true,
		}
		keys[role] = raw
	}

	store := storage.NewMemory()
	store.SeedService(&domain.TourService{
		ID: "svc-1", VendorID: "vendor-1", Name: "Kazbek day hike", Price: 150, Available: true,
	})

	sink := audit.NewMemorySink()
	recorder := audit.NewRecorder(sink, logger, 256, 10*time.Millisecond)
	recorder.Start()
	t.Cleanup(recorder.Stop)

	core := NewCore(
		auth.NewVerifier(agents, nil, logger),
		policy.NewEngine(policy.DefaultRules()),
		idempotency.NewCoordinator(idempotency.NewMemoryStore(), time.Second, logger),
		recorder,
		NewMetrics(nil),
		logger,
	)
	RegisterAll(core, Deps{
		Store:    store,
		Payments: payment.NewStub(logger),
		Bookings: validate.NewBookingRules(store),
		Refunds:  validate.NewRefundRules(store),
	})

	srv := httptest.NewServer(NewServer(core, logger).Routes())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, sink: sink, recorder: recorder, keys: keys}
}

func (e *testEnv) call(t *testing.T, key, path, idemKey string, body any) (int, Envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestDuplicateIdempotencyKeyReplaysResult(t *testing.T) {
	env := newTestEnv(t, domain.RoleBookingManager)
	key := env.keys[domain.RoleBookingManager]

	body := map[string]any{
		"service_id":     "svc-1",
		"customer_email": "guest@example.com",
		"start_date":     "2026-09-10",
		"end_date":       "2026-09-12",
	}

	status1, env1 := env.call(t, key, "/api/agent/tools/bookings/create", "abc", body)
	require.Equal(t, http.StatusCreated, status1)
	assert.True(t, env1.Success)
	assert.False(t, env1.Cached)

	status2, env2 := env.call(t, key, "/api/agent/tools/bookings/create", "abc", body)
	require.Equal(t, http.StatusOK, status2)
	assert.True(t, env2.Success)
	assert.True(t, env2.Cached)

	// Побайтно тот же результат, та же бронь
	assert.JSONEq(t, string(env1.Data), string(env2.Data))
	require.Len(t, env.store.Bookings(), 1)

	// Replay не порождает ни второй success-записи, ни спорной failure-записи:
	// правила не перепроверяются против состояния, созданного первым
	// исполнением (иначе бронь конфликтовала бы сама с собой)
	env.drain()
	var successes, failures int
	for _, e := range env.sink.Entries() {
		switch e.Outcome {
		case audit.OutcomeSuccess:
			successes++
		case audit.OutcomeFailure:
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, failures)
}

func TestRuleRejectionReleasesIdempotencyKey(t *testing.T) {
	// Отказ бизнес-правила не должен персистить claim: честный ретрай с тем же
	// ключом после устранения причины обязан исполниться заново
	env := newTestEnv(t, domain.RoleBookingManager)
	key := env.keys[domain.RoleBookingManager]

	env.store.SeedService(&domain.TourService{
		ID: "svc-closed", VendorID: "vendor-1", Name: "Seasonal tour", Price: 90, Available: false,
	})

	body := map[string]any{
		"service_id":     "svc-closed",
		"customer_email": "guest@example.com",
		"start_date":     "2026-10-01",
		"end_date":       "2026-10-03",
	}

	status, resp := env.call(t, key, "/api/agent/tools/bookings/create", "retry-key", body)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, validate.CodeServiceUnavailable, resp.Code)

	// Сезон открылся — тот же Idempotency-Key должен дать свежее исполнение
	env.store.SeedService(&domain.TourService{
		ID: "svc-closed", VendorID: "vendor-1", Name: "Seasonal tour", Price: 90, Available: true,
	})

	status, resp = env.call(t, key, "/api/agent/tools/bookings/create", "retry-key", body)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, resp.Success)
	assert.False(t, resp.Cached)
	assert.Len(t, env.store.Bookings(), 1)
}

func TestBookingUpdateMoveDatesDoesNotSelfConflict(t *testing.T) {
	env := newTestEnv(t, domain.RoleBookingManager)
	key := env.keys[domain.RoleBookingManager]

	status, resp := env.call(t, key, "/api/agent/tools/bookings/create", "", map[string]any{
		"service_id":     "svc-1",
		"customer_email": "guest@example.com",
		"start_date":     "2026-09-10",
		"end_date":       "2026-09-12",
	})
	require.Equal(t, http.StatusCreated, status)
	var created domain.Booking
	require.NoError(t, json.Unmarshal(resp.Data, &created))

	// Продление собственных дат пересекается со старым диапазоном — это не
	// конфликт: своя бронь исключена из проверки
	status, resp = env.call(t, key, "/api/agent/tools/bookings/update", "", map[string]any{
		"booking_id": created.ID,
		"start_date": "2026-09-10",
		"end_date":   "2026-09-14",
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	b, err := env.store.GetBooking(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-14", b.EndDate.Format("2006-01-02"))

	// Пересечение с ЧУЖОЙ подтвержденной бронью по-прежнему отклоняется
	status, resp2 := env.call(t, key, "/api/agent/tools/bookings/create", "", map[string]any{
		"service_id":     "svc-1",
		"customer_email": "other@example.com",
		"start_date":     "2026-09-20",
		"end_date":       "2026-09-22",
	})
	require.Equal(t, http.StatusCreated, status)
	_ = resp2

	status, resp = env.call(t, key, "/api/agent/tools/bookings/update", "", map[string]any{
		"booking_id": created.ID,
		"start_date": "2026-09-19",
		"end_date":   "2026-09-21",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, validate.CodeBookingConflict, resp.Code)
}

func TestPolicyDeniesRoleOutsideAllowList(t *testing.T) {
	env := newTestEnv(t, domain.RolePricing)

	status, resp := env.call(t, env.keys[domain.RolePricing],
		"/api/agent/tools/vendors/suspend", "",
		map[string]any{"vendor_id": "vendor-1", "reason": "fraud"})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodePolicyDenied, resp.Code)
	assert.False(t, resp.Success)
}

func TestUnknownActionIsDeniedNotNotFound(t *testing.T) {
	env := newTestEnv(t, domain.RolePricing)

	status, resp := env.call(t, env.keys[domain.RolePricing],
		"/api/agent/tools/vendors/delete", "", map[string]any{"vendor_id": "vendor-1"})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodePolicyDenied, resp.Code)
}

func TestHighRiskValidationRunsBeforeApprovalGate(t *testing.T) {
	// FINANCE может refunds:create (high-risk), но невалидная сумма должна
	// отбрасываться кодом валидации, а не кодом эскалации
	env := newTestEnv(t, domain.RoleFinance)

	now := time.Now().UTC()
	require.NoError(t, env.store.CreateBooking(context.Background(), &domain.Booking{
		ID: "bk-1", ServiceID: "svc-1", CustomerEmail: "guest@example.com",
		StartDate: now, EndDate: now.AddDate(0, 0, 2),
		Status: domain.BookingConfirmed, TotalPrice: 150,
	}))

	status, resp := env.call(t, env.keys[domain.RoleFinance],
		"/api/agent/tools/refunds/create", "",
		map[string]any{"booking_id": "bk-1", "amount": 9000.0, "reason": "complaint"})

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, validate.CodeRefundValidationFailed, resp.Code)
	assert.Empty(t, env.store.Refunds())

	env.drain()
	for _, e := range env.sink.Entries() {
		assert.Equal(t, audit.OutcomeFailure, e.Outcome)
	}
}

func TestHighRiskValidRequestRequiresOwnerApproval(t *testing.T) {
	env := newTestEnv(t, domain.RoleFinance)

	now := time.Now().UTC()
	require.NoError(t, env.store.CreateBooking(context.Background(), &domain.Booking{
		ID: "bk-1", ServiceID: "svc-1", CustomerEmail: "guest@example.com",
		StartDate: now, EndDate: now.AddDate(0, 0, 2),
		Status: domain.BookingConfirmed, TotalPrice: 150,
	}))

	status, resp := env.call(t, env.keys[domain.RoleFinance],
		"/api/agent/tools/refunds/create", "",
		map[string]any{"booking_id": "bk-1", "amount": 100.0, "reason": "complaint"})

	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, CodeRequiresOwnerApproval, resp.Code)
	// Мутации не было
	assert.Empty(t, env.store.Refunds())
}

func TestOwnerExecutesHighRiskDirectly(t *testing.T) {
	env := newTestEnv(t, domain.RoleOwner)

	now := time.Now().UTC()
	require.NoError(t, env.store.CreateBooking(context.Background(), &domain.Booking{
		ID: "bk-1", ServiceID: "svc-1", CustomerEmail: "guest@example.com",
		StartDate: now, EndDate: now.AddDate(0, 0, 2),
		Status: domain.BookingConfirmed, TotalPrice: 150,
	}))

	status, resp := env.call(t, env.keys[domain.RoleOwner],
		"/api/agent/tools/refunds/create", "",
		map[string]any{"booking_id": "bk-1", "amount": 150.0, "reason": "owner goodwill"})

	require.Equal(t, http.StatusCreated, status)
	assert.True(t, resp.Success)

	var ref domain.Refund
	require.NoError(t, json.Unmarshal(resp.Data, &ref))
	assert.True(t, ref.Mock)
	assert.NotEmpty(t, ref.ProviderID)

	// Бронь переведена в REFUNDED
	b, err := env.store.GetBooking(context.Background(), "bk-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRefunded, b.Status)
}

func TestCheckoutWithoutProviderIsExplicitMock(t *testing.T) {
	env := newTestEnv(t, domain.RoleFinance)

	status, resp := env.call(t, env.keys[domain.RoleFinance],
		"/api/agent/tools/checkout/create", "",
		map[string]any{"booking_id": "bk-1", "amount": 150.0, "currency": "EUR"})

	require.Equal(t, http.StatusCreated, status)

	var s domain.CheckoutSession
	require.NoError(t, json.Unmarshal(resp.Data, &s))
	assert.True(t, s.Mock)
	assert.Contains(t, s.URL, "mock")
}

func TestUnauthenticatedKeyRejected(t *testing.T) {
	env := newTestEnv(t, domain.RoleOwner)

	for name, key := range map[string]string{
		"no key":        "",
		"malformed":     "not-a-key",
		"unknown valid": "tb_00000000000000000000000000000000",
	} {
		t.Run(name, func(t *testing.T) {
			status, resp := env.call(t, key,
				"/api/agent/tools/vendors/create", "",
				map[string]any{"name": "X", "email": "x@example.com"})
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, CodeUnauthenticated, resp.Code)
		})
	}
}

func TestRevokedAgentRejected(t *testing.T) {
	logger := zap.NewNop()
	raw, hash, prefix, err := auth.GenerateKey(bcrypt.MinCost)
	require.NoError(t, err)

	agents := &agentStore{byPrefix: map[string]*domain.Agent{
		prefix: {ID: "agent-1", Role: domain.RoleOwner, KeyHash: hash, KeyPrefix: prefix, Active: false},
	}}
	v := auth.NewVerifier(agents, nil, logger)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestSchemaValidationRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t, domain.RoleBookingManager)
	key := env.keys[domain.RoleBookingManager]

	cases := map[string]map[string]any{
		"dates reversed": {
			"service_id": "svc-1", "customer_email": "g@example.com",
			"start_date": "2026-09-12", "end_date": "2026-09-10",
		},
		"bad email": {
			"service_id": "svc-1", "customer_email": "nope",
			"start_date": "2026-09-10", "end_date": "2026-09-12",
		},
		"unknown field": {
			"service_id": "svc-1", "customer_email": "g@example.com",
			"start_date": "2026-09-10", "end_date": "2026-09-12", "surprise": true,
		},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			status, resp := env.call(t, key, "/api/agent/tools/bookings/create", "", body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, CodeInvalidInput, resp.Code)
		})
	}
	assert.Empty(t, env.store.Bookings())
}

func TestBookingConflictRejected(t *testing.T) {
	env := newTestEnv(t, domain.RoleBookingManager)
	key := env.keys[domain.RoleBookingManager]

	first := map[string]any{
		"service_id": "svc-1", "customer_email": "a@example.com",
		"start_date": "2026-09-10", "end_date": "2026-09-12",
	}
	status, _ := env.call(t, key, "/api/agent/tools/bookings/create", "", first)
	require.Equal(t, http.StatusCreated, status)

	overlap := map[string]any{
		"service_id": "svc-1", "customer_email": "b@example.com",
		"start_date": "2026-09-11", "end_date": "2026-09-13",
	}
	status, resp := env.call(t, key, "/api/agent/tools/bookings/create", "", overlap)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, validate.CodeBookingConflict, resp.Code)

	// Смежный диапазон (end == start) конфликтом не считается
	adjacent := map[string]any{
		"service_id": "svc-1", "customer_email": "c@example.com",
		"start_date": "2026-09-12", "end_date": "2026-09-14",
	}
	status, _ = env.call(t, key, "/api/agent/tools/bookings/create", "", adjacent)
	assert.Equal(t, http.StatusCreated, status)
}

func TestEveryAttemptLeavesExactlyOneAuditEntry(t *testing.T) {
	env := newTestEnv(t, domain.RoleOwner, domain.RolePricing)

	// 1 успех + 1 policy deny + 1 invalid input = 3 записи
	env.call(t, env.keys[domain.RoleOwner], "/api/agent/tools/vendors/create", "",
		map[string]any{"name": "Svaneti Tours", "email": "hi@svaneti.ge"})
	env.call(t, env.keys[domain.RolePricing], "/api/agent/tools/vendors/suspend", "",
		map[string]any{"vendor_id": "vendor-1"})
	env.call(t, env.keys[domain.RoleOwner], "/api/agent/tools/vendors/create", "",
		map[string]any{"name": "", "email": "broken"})

	env.drain()
	entries := env.sink.Entries()
	require.Len(t, entries, 3)

	var successes, failures int
	for _, e := range entries {
		require.NotEmpty(t, e.TraceID)
		require.NotEmpty(t, e.AgentID)
		switch e.Outcome {
		case audit.OutcomeSuccess:
			successes++
			assert.Equal(t, "vendor", e.TargetType)
			assert.NotEmpty(t, e.ResultFingerprint)
		case audit.OutcomeFailure:
			failures++
			assert.NotEmpty(t, e.Reason)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 2, failures)
}

func TestTraceIDEchoedToClient(t *testing.T) {
	env := newTestEnv(t, domain.RoleOwner)

	req, err := http.NewRequest(http.MethodPost,
		env.srv.URL+"/api/agent/tools/vendors/create",
		bytes.NewReader([]byte(`{"name":"X","email":"x@example.com"}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.keys[domain.RoleOwner])
	req.Header.Set("X-Trace-ID", "trace-from-caller")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-from-caller", resp.Header.Get("X-Trace-ID"))
}

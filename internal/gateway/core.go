package gateway

/*
Core — ядро шлюза агентских действий. Один конвейер на все типы действий:

  Credential Verifier -> Policy Engine -> схема -> бизнес-правила ->
  Idempotency Coordinator (оборачивает мутацию) -> Audit -> конверт ответа.

Хендлеры не дублируют try/catch-обвязку: каждый декларирует только схему,
опциональное бизнес-правило и замыкание самой мутации. Обойти Policy Engine
из хендлера невозможно — проверка зашита в конвейер.

Состояния одного запроса:
  Unauthenticated -> Authenticated -> PolicyChecked -> SchemaValidated ->
  Claimed(fresh: BusinessRuleChecked -> Executed) | Replayed(cached) ->
  Logged -> Responded.
Ретраев внутри запроса нет — ретрай это новый запрос с тем же Idempotency-Key.

Бизнес-правила выполняются ТОЛЬКО на свежем исполнении, внутри захваченного
claim. Replay отдает сохраненный результат, не трогая валидаторы: их повторный
прогон видел бы состояние, созданное первым исполнением (напр. конфликт брони
с самой собой), и честный ретрай получал бы отказ вместо кэшированного ответа.

Примечание к порядку: запрос с requiresOwnerApproval проходит схему и
бизнес-правила ДО отказа REQUIRES_OWNER_APPROVAL. Так внешний approval-flow
получает только те запросы, которые после подтверждения реально исполнимы,
а невалидные отбрасываются своим кодом (400), не засоряя очередь владельца.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/audit"
	"github.com/tourbase/tourbase/internal/auth"
	"github.com/tourbase/tourbase/internal/domain"
	"github.com/tourbase/tourbase/internal/idempotency"
	"github.com/tourbase/tourbase/internal/policy"
	"github.com/tourbase/tourbase/internal/validate"
)

// Handler — регистрация одного типа действия.
type Handler struct {
	Action domain.ActionName

	// FreshStatus — HTTP-статус свежего исполнения (201 для созданий).
	// Replay из кэша всегда отвечает 200.
	FreshStatus int

	// Decode — схемная валидация: форма и типы, без обращения к состоянию.
	Decode func(body []byte) (any, error)

	// Rule — бизнес-предусловия по текущему состоянию домена. Читает
	// хранилище, не мутирует; выполняется перед Execute только на свежем
	// исполнении (replay правила не перепроверяет).
	Rule func(ctx context.Context, req any) error

	// Execute — сама мутация. Вызывается только внутри координатора.
	Execute func(ctx context.Context, req any) (any, error)

	// Target извлекает (тип, id) затронутой сущности для аудита.
	Target func(req, out any) (targetType, targetID string)
}

type Core struct {
	verifier *auth.Verifier
	policy   *policy.Engine
	idem     *idempotency.Coordinator
	recorder *audit.Recorder
	metrics  *Metrics
	handlers map[domain.ActionName]*Handler
	logger   *zap.Logger
}

func NewCore(
	verifier *auth.Verifier,
	pdp *policy.Engine,
	idem *idempotency.Coordinator,
	recorder *audit.Recorder,
	metrics *Metrics,
	logger *zap.Logger,
) *Core {
	return &Core{
		verifier: verifier,
		policy:   pdp,
		idem:     idem,
		recorder: recorder,
		metrics:  metrics,
		handlers: make(map[domain.ActionName]*Handler),
		logger:   logger.Named("gateway"),
	}
}

func (c *Core) Register(h *Handler) {
	if h.FreshStatus == 0 {
		h.FreshStatus = http.StatusOK
	}
	c.handlers[h.Action] = h
}

// Process прогоняет один запрос через конвейер и возвращает готовый Result.
// Любой исход, кроме unauthenticated, оставляет ровно одну запись аудита.
func (c *Core) Process(ctx context.Context, rawKey string, action domain.ActionName, idemKey string, body []byte) *Result {
	start := time.Now()
	traceID := extractTraceID(ctx)
	c.metrics.TotalRequests.WithLabelValues(action.String()).Inc()

	outcome := "success"
	defer func() {
		c.metrics.RequestDuration.WithLabelValues(action.String(), outcome).Observe(time.Since(start).Seconds())
	}()

	// 1. Аутентификация. Провал замыкает запрос: атрибутировать попытку
	// некому, в аудит уходит только best-effort запись с префиксом ключа.
	agent, err := c.verifier.Verify(ctx, rawKey)
	if err != nil {
		outcome = "unauthenticated"
		c.metrics.ErrorTotal.WithLabelValues(CodeUnauthenticated).Inc()
		c.recorder.Failure(audit.Entry{
			ID:             uuid.New().String(),
			TraceID:        traceID,
			AgentID:        "unknown:" + auth.SafePrefix(rawKey),
			Action:         action,
			Reason:         "unauthenticated",
			IdempotencyKey: idemKey,
			DurationMs:     time.Since(start).Milliseconds(),
		})
		return errorResult(newError(http.StatusUnauthorized, CodeUnauthenticated, "unknown, revoked or malformed agent key"), "", action)
	}

	// Заготовка записи аудита; статус добирается по ходу конвейера
	entry := audit.Entry{
		ID:                 uuid.New().String(),
		TraceID:            traceID,
		AgentID:            agent.ID,
		Action:             action,
		RequestFingerprint: audit.Fingerprint(body),
		IdempotencyKey:     idemKey,
	}

	fail := func(gerr *Error) *Result {
		outcome = "failure"
		c.metrics.ErrorTotal.WithLabelValues(gerr.Code).Inc()
		entry.Reason = gerr.Code + ": " + gerr.Message
		entry.DurationMs = time.Since(start).Milliseconds()
		c.recorder.Failure(entry)
		return errorResult(gerr, agent.ID, action)
	}

	// 2. Policy Engine (table-driven, детерминированный)
	decision := c.policy.Check(agent.Role, action)
	if !decision.Allowed {
		return fail(newError(http.StatusForbidden, CodePolicyDenied, decision.Reason))
	}

	h, ok := c.handlers[action]
	if !ok {
		// Политика действие знает, хендлер не зарегистрирован — мисконфиг
		c.logger.Error("no handler registered for allowed action", zap.String("action", action.String()))
		return fail(newError(http.StatusInternalServerError, CodeExecutionFailed, "action is not wired"))
	}

	// 3. Схемная валидация
	req, err := h.Decode(body)
	if err != nil {
		return fail(newError(http.StatusBadRequest, CodeInvalidInput, err.Error()))
	}

	// 4. Эскалация high-risk: исполнять может только OWNER. Бизнес-правила
	// прогоняются до отказа (мутации не будет, claim не нужен): невалидный
	// запрос отбрасывается своим кодом и не попадает в очередь владельца.
	if decision.RequiresOwnerApproval {
		if gerr := c.checkRule(ctx, h, action, req); gerr != nil {
			return fail(gerr)
		}
		return fail(newError(http.StatusForbidden, CodeRequiresOwnerApproval, decision.Reason))
	}

	// 5. Идемпотентная секция. Claim резолвится ДО бизнес-правил:
	// StateCompleted коротко замыкает на сохраненный результат, а правила и
	// мутация выполняются только под свежезахваченным ключом. Отказ правила
	// освобождает claim (Release в координаторе) — валидаторы остаются
	// чистыми и pre-mutation, а ретрай с тем же ключом исполнится честно.
	var out any
	resultBytes, cached, err := c.idem.Execute(ctx, agent.ID, idemKey, action,
		func(execCtx context.Context) ([]byte, error) {
			if h.Rule != nil {
				if ruleErr := h.Rule(execCtx, req); ruleErr != nil {
					return nil, ruleErr
				}
			}
			res, execErr := h.Execute(execCtx, req)
			if execErr != nil {
				return nil, execErr
			}
			out = res
			return json.Marshal(res)
		})
	if err != nil {
		var re *validate.RuleError
		if errors.As(err, &re) {
			return fail(newError(http.StatusBadRequest, re.Code, re.Reason))
		}
		if errors.Is(err, idempotency.ErrInFlight) {
			return fail(newError(http.StatusConflict, CodeInFlight,
				"another request with this idempotency key is in flight, retry later"))
		}
		c.logger.Error("action execution failed",
			zap.String("action", action.String()), zap.String("agent_id", agent.ID), zap.Error(err))
		return fail(newError(http.StatusInternalServerError, CodeExecutionFailed, "action execution failed"))
	}

	// 6. Аудит успеха — только для свежего исполнения. Replay не порождает
	// новых success-записей: инвариант "одна успешная запись на ключ".
	if !cached {
		if h.Target != nil {
			entry.TargetType, entry.TargetID = h.Target(req, out)
		}
		entry.ResultFingerprint = audit.Fingerprint(resultBytes)
		entry.DurationMs = time.Since(start).Milliseconds()
		c.recorder.Success(entry)
	} else {
		c.metrics.CacheHits.WithLabelValues(action.String()).Inc()
	}

	status := h.FreshStatus
	if cached {
		status = http.StatusOK
	}
	return successResult(status, resultBytes, cached, agent.ID, action)
}

// checkRule прогоняет бизнес-правило вне идемпотентной секции (high-risk
// путь, где мутации заведомо не будет).
func (c *Core) checkRule(ctx context.Context, h *Handler, action domain.ActionName, req any) *Error {
	if h.Rule == nil {
		return nil
	}
	if err := h.Rule(ctx, req); err != nil {
		var re *validate.RuleError
		if errors.As(err, &re) {
			return newError(http.StatusBadRequest, re.Code, re.Reason)
		}
		c.logger.Error("business rule check failed", zap.String("action", action.String()), zap.Error(err))
		return newError(http.StatusInternalServerError, CodeExecutionFailed, "business rule check failed")
	}
	return nil
}

// CheckPermission — спекулятивная проверка прав без побочных эффектов
// (permission preview для панелей). Аудит не трогается.
func (c *Core) CheckPermission(role domain.Role, action domain.ActionName) policy.Decision {
	return c.policy.Check(role, action)
}

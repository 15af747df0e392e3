package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
)

// Машинные коды ошибок. Вызывающий агент отличает по ним «больше не пробовать»
// (policy/валидация) от «можно ретраить» (исполнение, in-flight).
const (
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodePolicyDenied          = "POLICY_DENIED"
	CodeRequiresOwnerApproval = "REQUIRES_OWNER_APPROVAL"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeExecutionFailed       = "EXECUTION_FAILED"
	CodeInFlight              = "IDEMPOTENCY_IN_FLIGHT"
)

// Error — отказ шлюза, готовый к маппингу в HTTP-ответ.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Metadata — служебная часть конверта ответа.
type Metadata struct {
	AgentID   string    `json:"agentId,omitempty"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope — единый конверт ответа шлюза (успех и ошибка).
type Envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
	Code     string          `json:"code,omitempty"`
	Cached   bool            `json:"cached"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

// Result — исход обработки: статус + конверт; дальше только сериализация.
type Result struct {
	Status   int
	Envelope Envelope
}

func successResult(status int, data json.RawMessage, cached bool, agentID string, action domain.ActionName) *Result {
	return &Result{
		Status: status,
		Envelope: Envelope{
			Success: true,
			Data:    data,
			Cached:  cached,
			Metadata: &Metadata{
				AgentID:   agentID,
				Action:    action.String(),
				Timestamp: time.Now().UTC(),
			},
		},
	}
}

func errorResult(gerr *Error, agentID string, action domain.ActionName) *Result {
	return &Result{
		Status: gerr.Status,
		Envelope: Envelope{
			Error:   http.StatusText(gerr.Status),
			Message: gerr.Message,
			Code:    gerr.Code,
			Metadata: &Metadata{
				AgentID:   agentID,
				Action:    action.String(),
				Timestamp: time.Now().UTC(),
			},
		},
	}
}

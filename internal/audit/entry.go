package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Entry — append-only запись одной попытки действия. Шлюз никогда не
// обновляет и не удаляет записи; тела запроса/результата хранятся как
// fingerprints, не как сырые payload.
type Entry struct {
	ID                 string            `json:"id"`
	TraceID            string            `json:"trace_id"`
	AgentID            string            `json:"agent_id"`
	Action             domain.ActionName `json:"action"`
	Outcome            Outcome           `json:"outcome"`
	TargetType         string            `json:"target_type,omitempty"`
	TargetID           string            `json:"target_id,omitempty"`
	RequestFingerprint string            `json:"request_fingerprint,omitempty"`
	ResultFingerprint  string            `json:"result_fingerprint,omitempty"`
	Reason             string            `json:"reason,omitempty"` // причина провала
	IdempotencyKey     string            `json:"idempotency_key,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	DurationMs         int64             `json:"duration_ms"`
}

// Fingerprint — усеченный sha256 тела (16 hex-символов). Достаточно для
// корреляции в расследованиях, не раскрывая содержимое.
func Fingerprint(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}

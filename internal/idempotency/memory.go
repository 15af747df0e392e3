package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/tourbase/tourbase/internal/domain"
)

type memoryRecord struct {
	state     State
	action    domain.ActionName
	result    []byte
	createdAt time.Time
}

// MemoryStore — однопроцессная реализация Store. Атомарность claim
// обеспечивается мьютексом: проверка и вставка — одна критическая секция.
// Используется в тестах и single-node окружениях без Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord)}
}

func recordKey(agentID, key string) string { return agentID + "\x00" + key }

func (s *MemoryStore) Claim(_ context.Context, agentID, key string, action domain.ActionName) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey(agentID, key)
	if rec, ok := s.records[k]; ok {
		if rec.state == StateCompleted {
			return Claim{State: StateCompleted, Result: rec.result}, nil
		}
		return Claim{State: StatePending}, nil
	}

	s.records[k] = &memoryRecord{state: StatePending, action: action, createdAt: time.Now()}
	return Claim{State: StateClaimed}, nil
}

func (s *MemoryStore) Complete(_ context.Context, agentID, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[recordKey(agentID, key)]; ok && rec.state == StatePending {
		rec.state = StateCompleted
		rec.result = result
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, agentID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[recordKey(agentID, key)]; ok && rec.state == StatePending {
		delete(s.records, recordKey(agentID, key))
	}
	return nil
}

// Sweep выбрасывает записи старше retention-окна.
func (s *MemoryStore) Sweep(_ context.Context, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for k, rec := range s.records {
		if rec.state == StateCompleted && rec.createdAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

package audit

import (
	"context"
	"sync"
)

// MemorySink — in-process приемник записей (тесты, single-node dev).
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	batches int
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) WriteBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	s.batches++
	return nil
}

// Entries возвращает копию накопленных записей.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

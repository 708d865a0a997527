package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// MemoryStore is a process-local Store. Counters are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]window
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]window)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, policy Policy, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[key]
	if !ok {
		s.items[key] = window{count: 1, start: now}
		return Decision{Allowed: true}, nil
	}
	if entry.count < policy.MaxAttempts {
		entry.count++
		s.items[key] = entry
		return Decision{Allowed: true}, nil
	}
	elapsed := now.Sub(entry.start)
	if elapsed >= policy.Window {
		s.items[key] = window{count: 1, start: now}
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: policy.Window - elapsed}, nil
}

package ratelimit

import (
	"sync"
	"time"
)

// MemoryStore is a serialized in-memory CounterStore. Each Incr is a single
// read-modify-write under the mutex, so concurrent callers never lose
// updates.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

type windowCounter struct {
	start time.Time
	count int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*windowCounter)}
}

// Incr implements CounterStore. A stale window is reset before counting, so
// rollover resets only the window whose boundary passed.
func (s *MemoryStore) Incr(key string, windowStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !c.start.Equal(windowStart) {
		c = &windowCounter{start: windowStart}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

// Decr implements CounterStore. A window that already rolled over or was
// never charged is left untouched.
func (s *MemoryStore) Decr(key string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !c.start.Equal(windowStart) || c.count == 0 {
		return nil
	}
	c.count--
	return nil
}

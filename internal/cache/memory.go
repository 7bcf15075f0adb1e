package cache

import (
	"context"
	"sync"
	"time"

	"comedores/internal/utils"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is process-local. Expiry is evaluated lazily against the clock.
type MemoryStore struct {
	mu    sync.Mutex
	clock utils.Clock
	data  map[string]memoryEntry
}

func NewMemoryStore(clock utils.Clock) *MemoryStore {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &MemoryStore{clock: clock, data: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) AddIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.data[key] = memoryEntry{value: value, expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

// live must be called with mu held.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

package provider

import (
	"context"
	"sync"
	"time"
)

// In-memory CounterStore/CacheStore implementations. Tests inject these so
// the clients run without redis; they honor TTLs so window-rollover behavior
// is still observable.

type memoryEntry struct {
	value    string
	count    int64
	expireAt time.Time
}

type MemoryCounterStore struct {
	mu  sync.Mutex
	m   map[string]*memoryEntry
	now func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{m: make(map[string]*memoryEntry), now: time.Now}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.m[key]
	if !ok || now.After(e.expireAt) {
		e = &memoryEntry{expireAt: now.Add(ttl)}
		s.m[key] = e
	}
	e.count++
	return e.count, nil
}

func (s *MemoryCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok {
		return -1, nil
	}
	return e.expireAt.Sub(s.now()), nil
}

// Count returns the current counter value for key, for test assertions.
func (s *MemoryCounterStore) Count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.m[key]; ok {
		return e.count
	}
	return 0
}

type MemoryCacheStore struct {
	mu  sync.Mutex
	m   map[string]*memoryEntry
	now func() time.Time
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{m: make(map[string]*memoryEntry), now: time.Now}
}

func (s *MemoryCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok || s.now().After(e.expireAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryCacheStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[key] = &memoryEntry{value: value, expireAt: s.now().Add(ttl)}
	return nil
}

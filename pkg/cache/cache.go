// Package cache provides bounded-TTL caches for the hot append path.
// Caches are never the source of truth: a miss, an expiry, or a backend
// error always falls through to storage (fail-open contract).
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the byte-level cache contract shared by the in-memory and
// redis backends. Implementations must treat internal errors as misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	Clear(ctx context.Context)
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an instance-owned map with per-entry expiry. It is never
// shared across ledger instances.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		clock: time.Now,
	}
}

// WithClock overrides the clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || s.clock().After(item.expiresAt) {
		return nil, false
	}
	return item.value, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	s.items[key] = memoryItem{value: value, expiresAt: s.clock().Add(ttl)}
	s.mu.Unlock()
}

func (s *MemoryStore) Invalidate(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.items = make(map[string]memoryItem)
	s.mu.Unlock()
}

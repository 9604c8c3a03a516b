package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Default TTLs. The latest-entry cache only needs to absorb bursts of
// appends between storage round trips; payloads are stable once written.
const (
	DefaultLatestTTL  = time.Second
	DefaultPayloadTTL = 60 * time.Second
)

// DefaultLatestKey is the cache key used when callers do not scope the
// latest-entry pointer.
const DefaultLatestKey = "default"

// LatestEntry is the cached projection of the chain tip.
type LatestEntry struct {
	ID        string `json:"id"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// LatestEntryCache caches the "latest entry" pointer with a short TTL.
type LatestEntryCache struct {
	store Store
	ttl   time.Duration
}

func NewLatestEntryCache(store Store, ttl time.Duration) *LatestEntryCache {
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	return &LatestEntryCache{store: store, ttl: ttl}
}

func (c *LatestEntryCache) Get(ctx context.Context, key string) (*LatestEntry, bool) {
	raw, ok := c.store.Get(ctx, "latest:"+key)
	if !ok {
		return nil, false
	}
	var le LatestEntry
	if err := json.Unmarshal(raw, &le); err != nil {
		// Corrupt cache content is a miss, never an error.
		return nil, false
	}
	return &le, true
}

func (c *LatestEntryCache) Set(ctx context.Context, key string, le LatestEntry) {
	raw, err := json.Marshal(le)
	if err != nil {
		return
	}
	c.store.Set(ctx, "latest:"+key, raw, c.ttl)
}

func (c *LatestEntryCache) Invalidate(ctx context.Context, key string) {
	c.store.Invalidate(ctx, "latest:"+key)
}

func (c *LatestEntryCache) Clear(ctx context.Context) {
	c.store.Clear(ctx)
}

// PayloadCache caches parsed payloads by entry id, saving repeated
// deserialization on hot reads.
type PayloadCache struct {
	store Store
	ttl   time.Duration
}

func NewPayloadCache(store Store, ttl time.Duration) *PayloadCache {
	if ttl <= 0 {
		ttl = DefaultPayloadTTL
	}
	return &PayloadCache{store: store, ttl: ttl}
}

func (c *PayloadCache) Get(ctx context.Context, entryID string) (json.RawMessage, bool) {
	raw, ok := c.store.Get(ctx, "payload:"+entryID)
	if !ok {
		return nil, false
	}
	return json.RawMessage(raw), true
}

func (c *PayloadCache) Set(ctx context.Context, entryID string, payload json.RawMessage) {
	c.store.Set(ctx, "payload:"+entryID, payload, c.ttl)
}

func (c *PayloadCache) Invalidate(ctx context.Context, entryID string) {
	c.store.Invalidate(ctx, "payload:"+entryID)
}

func (c *PayloadCache) Clear(ctx context.Context) {
	c.store.Clear(ctx)
}

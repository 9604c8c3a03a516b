package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with redis, for deployments where several
// processes read the same ledger. Every redis error is swallowed and
// treated as a miss; the chain's source of truth is storage, not redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{
		client: rdb,
		prefix: prefix,
		logger: slog.Default().With("component", "cache.redis"),
	}
}

// NewRedisStoreWithClient wraps an existing client, for tests and shared pools.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "cache.redis"),
	}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("cache get failed, treating as miss", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Invalidate(ctx context.Context, key string) {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.Warn("cache invalidate failed", "key", key, "error", err)
	}
}

func (s *RedisStore) Clear(ctx context.Context) {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			s.logger.Warn("cache clear failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("cache clear scan failed", "error", err)
	}
}

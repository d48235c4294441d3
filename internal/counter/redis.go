// Package counter provides the expiring counter backends used by the rate
// limiter: a Redis store shared across instances and an in-process store for
// single-instance deployments and tests.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis. Increment and expiry are sent in one
// MULTI/EXEC transaction so a counter never exists without a TTL.
// Keys are used as given; the limiter already namespaces them.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a RedisStore over an existing client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get returns the counter value; ok is false when the key does not exist.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, true, nil
}

// IncrementAndExpire increments key by one and sets its TTL atomically.
func (s *RedisStore) IncrementAndExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

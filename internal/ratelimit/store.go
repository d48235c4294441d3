//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock
package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared counter backend. Implementations must make
// IncrementAndExpire atomic.
type CounterStore interface {
	// Get returns the current count, or ok=false when the key is absent.
	Get(ctx context.Context, key string) (count int64, ok bool, err error)
	// IncrementAndExpire increments key and sets its time to live.
	IncrementAndExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_IncrementAndGet(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrementAndExpire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.Equal(t, i, n)
	}

	n, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), n)
}

func TestMemoryStore_Expiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, err := s.IncrementAndExpire(ctx, "k", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	n, err := s.IncrementAndExpire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = s.IncrementAndExpire(ctx, "short", time.Second)
	_, _ = s.IncrementAndExpire(ctx, "long", time.Hour)
	require.Equal(t, 2, s.Len())

	clock.Advance(2 * time.Second)
	s.Cleanup()
	require.Equal(t, 1, s.Len())

	_, ok, _ := s.Get(ctx, "long")
	require.True(t, ok)
}

func TestMemoryStore_Janitor(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s := NewMemoryStore(WithClock(clock.Now), WithCleanupEvery(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, _ = s.IncrementAndExpire(ctx, "k", time.Second)
	clock.Advance(time.Minute)
	s.StartJanitor(ctx)

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.IncrementAndExpire(ctx, "k", time.Minute)
		}()
	}
	wg.Wait()

	n, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(50), n)
}

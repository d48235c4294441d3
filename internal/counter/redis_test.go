package counter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newRedisStore(t)

	n, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, n)
}

func TestRedisStore_IncrementAndExpire(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	n, err := s.IncrementAndExpire(ctx, "k", 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.IncrementAndExpire(ctx, "k", 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), got)
	require.Equal(t, 2*time.Minute, mr.TTL("k"))

	mr.FastForward(2*time.Minute + time.Second)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore_KeysUnchanged(t *testing.T) {
	s, mr := newRedisStore(t)

	_, err := s.IncrementAndExpire(context.Background(), "relay:ip:203.0.113.7:1700000040", time.Minute)
	require.NoError(t, err)
	require.Equal(t, []string{"relay:ip:203.0.113.7:1700000040"}, mr.Keys())
}

func TestRedisStore_Errors(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	mr.SetError("LOADING server is loading")

	_, _, err := s.Get(ctx, "k")
	require.Error(t, err)

	_, err = s.IncrementAndExpire(ctx, "k", time.Minute)
	require.Error(t, err)
}

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var policy = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func TestMemory_BlocksAtThreshold(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemory(policy)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	ok, dur, err := m.Allow(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, dur)

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, "a@b.c", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, dur, err := m.Failure(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	ok, dur, err = m.Allow(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Minute, dur)

	// other ip is not affected
	ok, _, _ = m.Allow(ctx, "a@b.c", HashIP("10.0.0.2"))
	require.True(t, ok)

	now = now.Add(11 * time.Minute)
	ok, _, _ = m.Allow(ctx, "a@b.c", ip)
	require.True(t, ok)
}

func TestMemory_WindowAndSuccessReset(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemory(policy)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	_, _, _ = m.Failure(ctx, "a@b.c", ip)
	_, _, _ = m.Failure(ctx, "a@b.c", ip)
	now = now.Add(6 * time.Minute)
	blocked, _, _ := m.Failure(ctx, "a@b.c", ip)
	require.False(t, blocked, "window expired, count restarts")

	_, _, _ = m.Failure(ctx, "a@b.c", ip)
	require.NoError(t, m.Success(ctx, "a@b.c", ip))
	blocked, _, _ = m.Failure(ctx, "a@b.c", ip)
	require.False(t, blocked)
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "", policy), mr
}

func TestRedis_BlocksAtThreshold(t *testing.T) {
	t.Parallel()
	l, mr := newRedis(t)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := l.Failure(ctx, "a@b.c", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	ok, _, err := l.Allow(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, ok)

	blocked, dur, err := l.Failure(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, dur)

	ok, dur, err = l.Allow(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, dur, time.Duration(0))

	mr.FastForward(11 * time.Minute)
	ok, _, err = l.Allow(ctx, "a@b.c", ip)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_SuccessResets(t *testing.T) {
	t.Parallel()
	l, mr := newRedis(t)
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	_, _, _ = l.Failure(ctx, "a@b.c", ip)
	_, _, _ = l.Failure(ctx, "a@b.c", ip)
	require.NoError(t, l.Success(ctx, "a@b.c", ip))
	fails, _ := l.keys("a@b.c", ip)
	require.False(t, mr.Exists(fails))
}

func TestRedis_ErrorsPropagate(t *testing.T) {
	t.Parallel()
	l, mr := newRedis(t)
	mr.Close()
	_, _, err := l.Allow(context.Background(), "a@b.c", HashIP("x"))
	require.Error(t, err)
	_, _, err = l.Failure(context.Background(), "a@b.c", HashIP("x"))
	require.Error(t, err)
}

func TestHashIP_Determinism(t *testing.T) {
	t.Parallel()
	a := HashIP("1.2.3.4:123")
	b := HashIP("1.2.3.4:123")
	c := HashIP("5.6.7.8:321")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 32)
}

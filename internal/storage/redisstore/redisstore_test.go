package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/daktarihub/daktari-client/internal/storage"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestConnect(t *testing.T) {
	mr, _ := newRedis(t)
	c, err := Connect(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	mr.Close()
	_, err = Connect(context.Background(), Config{Addr: mr.Addr()})
	require.Error(t, err)
}

func TestStore_SetGetDelete(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	s := New(rdb, "tab", nil)

	_, ok, err := s.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, storage.KeyToken, "tok"))
	raw, err := mr.Get("daktari:tab:token")
	require.NoError(t, err)
	require.Equal(t, "tok", raw)

	v, ok, err := s.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok", v)

	require.NoError(t, s.Delete(ctx, storage.SessionKeys...))
	require.False(t, mr.Exists("daktari:tab:token"))
}

func TestStore_WatchSkipsOwnWrites(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(rdb, "shared", nil)
	b := New(rdb, "shared", nil)
	ch, err := a.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, storage.KeyUser, "{}"))
	require.NoError(t, b.Set(ctx, storage.KeyToken, "tok"))
	require.NoError(t, b.Delete(ctx, storage.KeyToken, storage.KeyProfile))

	select {
	case c := <-ch:
		require.Equal(t, storage.Change{Key: storage.KeyToken, Origin: b.ID()}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("write not observed")
	}
	select {
	case c := <-ch:
		require.Equal(t, storage.Change{Key: storage.KeyToken, Removed: true, Origin: b.ID()}, c)
	case <-time.After(2 * time.Second):
		t.Fatal("removal not observed")
	}
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	require.NoError(t, New(rdb, "one", nil).Set(ctx, storage.KeyToken, "x"))
	_, ok, err := New(rdb, "two", nil).Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	require.False(t, ok)
}

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func redisProvider(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("cannot reach Redis at %s: %v", addr, err)
	}
	p, err := New(Config{Client: rdb, Prefix: "loadcache-test:", CloseClient: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestNilClient(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNilClient)
}

func TestRedis_GetSetDel(t *testing.T) {
	p := redisProvider(t)
	ctx := context.Background()
	key := "getset:" + t.Name()

	_, ok, err := p.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Set(ctx, key, []byte("v1"), 1, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	b, ok, err := p.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), b)

	require.NoError(t, p.Del(ctx, key))
	_, ok, err = p.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedis_CloseIsIdempotent(t *testing.T) {
	p := redisProvider(t)
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

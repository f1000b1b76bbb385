package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{NumCounters: 1e4, MaxCost: 1 << 20, BufferItems: 64, SyncWrites: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestGetSetDel(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Set(ctx, "k", []byte("v"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	b, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, p.Del(ctx, "k"))
	_, ok, _ = p.Get(ctx, "k")
	require.False(t, ok)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

package loadcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	c "github.com/unkn0wn-root/loadcache/codec"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(RegistryOptions{})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r
}

func constLoader(v string) Loader[string, string] {
	return func(context.Context, string) (string, error) { return v, nil }
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("first")})
	require.NoError(t, err)

	_, err = Create(r, Options[string, string]{Name: "users", Loader: constLoader("second")})
	require.ErrorIs(t, err, ErrAlreadyExists)

	v, err := first.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "first", v, "the registered store keeps its loader")

	v, err = Get[string, string](ctx, r, "users", "k")
	require.NoError(t, err)
	require.Equal(t, "first", v)
}

func TestRegistryConcurrentCreate(t *testing.T) {
	r := newTestRegistry(t)
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("v")})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyExists):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, 15, dup.Load())
}

func TestRegistryLookup(t *testing.T) {
	r := newTestRegistry(t)
	_, err := Lookup[string, string](r, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	created, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("v")})
	require.NoError(t, err)

	found, err := Lookup[string, string](r, "users")
	require.NoError(t, err)
	require.Same(t, created, found)

	_, err = Lookup[int, string](r, "users")
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.Equal(t, []string{"users"}, r.Names())
}

func TestRegistryResolve(t *testing.T) {
	r := newTestRegistry(t)
	type site struct{ method string }
	opts := Options[string, string]{Name: "users", Loader: constLoader("v")}

	a, err := Resolve(r, site{"findUser"}, opts)
	require.NoError(t, err)
	b, err := Resolve(r, site{"findUser"}, opts)
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = Resolve(r, site{"findOther"}, opts)
	require.ErrorIs(t, err, ErrBindingConflict)

	_, err = Create(r, Options[string, string]{Name: "orders", Loader: constLoader("v")})
	require.NoError(t, err)
	_, err = Resolve(r, site{"findOrder"}, Options[string, string]{Name: "orders", Loader: constLoader("v")})
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = Resolve(r, []string{"not comparable"}, Options[string, string]{Name: "x", Loader: constLoader("v")})
	require.Error(t, err)
	_, err = Resolve(r, nil, Options[string, string]{Name: "x", Loader: constLoader("v")})
	require.Error(t, err)
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	s, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("v1")})
	require.NoError(t, err)
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "users"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, r.Remove(ctx, "users"), ErrNotFound)

	// the name is free again
	s2, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("v2")})
	require.NoError(t, err)
	v, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
}

func TestRegistryInvalidateHelper(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	l := newCountingLoader()
	_, err := Create(r, Options[string, string]{Name: "users", Loader: l.load})
	require.NoError(t, err)

	_, err = Get[string, string](ctx, r, "users", "k")
	require.NoError(t, err)
	require.NoError(t, Invalidate[string, string](ctx, r, "users", "k"))
	v, err := Get[string, string](ctx, r, "users", "k")
	require.NoError(t, err)
	require.Equal(t, "k#2", v)

	require.ErrorIs(t, Invalidate[string, string](ctx, r, "missing", "k"), ErrNotFound)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	ctx := context.Background()

	users, err := Create(r, Options[string, string]{Name: "users", Loader: constLoader("v")})
	require.NoError(t, err)
	orders, err := Create(r, Options[int, string]{Name: "orders", Loader: func(context.Context, int) (string, error) { return "o", nil }})
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx))
	_, err = users.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
	_, err = orders.Get(ctx, 1)
	require.ErrorIs(t, err, ErrClosed)

	_, err = Lookup[string, string](r, "users")
	require.ErrorIs(t, err, ErrClosed)
	_, err = Create(r, Options[string, string]{Name: "late", Loader: constLoader("v")})
	require.ErrorIs(t, err, ErrClosed)
	require.Empty(t, r.Names())
	require.NoError(t, r.Close(ctx))
}

type failingProvider struct{ *memProvider }

func (failingProvider) Close(context.Context) error { return errors.New("provider close failed") }

func TestRegistryCloseAggregatesErrors(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	for _, name := range []string{"a", "b"} {
		_, err := Create(r, Options[string, string]{
			Name: name, Loader: constLoader("v"),
			Provider: failingProvider{newMemProvider()}, Codec: c.String{},
		})
		require.NoError(t, err)
	}
	err := r.Close(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), `cache "a"`)
	require.Contains(t, err.Error(), `cache "b"`)
}

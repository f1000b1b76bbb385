package loadcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSweepRefreshesReadEntries(t *testing.T) {
	clock := newFakeClock()
	l := newCountingLoader()
	hooks := newHookRecorder()
	s := newTestStore(t, clock, Options[string, string]{
		Loader: l.load, TTL: time.Minute, RefreshAhead: 20 * time.Second, Hooks: hooks,
	})
	ctx := context.Background()

	for _, k := range []string{"read", "idle", "read"} {
		_, err := s.Get(ctx, k)
		require.NoError(t, err)
	}

	clock.Advance(45 * time.Second)
	s.sweep()
	require.Eventually(t, func() bool { return l.count("read") == 2 }, time.Second, time.Millisecond)
	s.inflight.Wait()
	require.Equal(t, 1, l.count("idle"), "entries nobody read since their load are left to expire")
	require.Equal(t, 1, hooks.count("refresh_started"))

	// the refreshed entry has not been read since, so the next sweep skips it
	clock.Advance(45 * time.Second)
	s.sweep()
	s.inflight.Wait()
	require.Equal(t, 2, l.count("read"))
}

func TestSweepRefreshIdle(t *testing.T) {
	clock := newFakeClock()
	l := newCountingLoader()
	s := newTestStore(t, clock, Options[string, string]{
		Loader: l.load, TTL: time.Minute, RefreshAhead: 20 * time.Second, RefreshIdle: true,
	})
	ctx := context.Background()
	for _, k := range []string{"a", "b"} {
		_, err := s.Get(ctx, k)
		require.NoError(t, err)
	}

	clock.Advance(10 * time.Second)
	s.sweep()
	s.inflight.Wait()
	require.Equal(t, 1, l.count("a"), "not inside the window yet")

	clock.Advance(35 * time.Second)
	s.sweep()
	s.inflight.Wait()
	require.Equal(t, 2, l.count("a"))
	require.Equal(t, 2, l.count("b"))
	v, _ := s.Peek("a")
	require.Equal(t, "a#2", v)
}

func TestSweepRespectsBackoff(t *testing.T) {
	clock := newFakeClock()
	l := newCountingLoader()
	s := newTestStore(t, clock, Options[string, string]{
		Loader: l.load, TTL: time.Minute, RefreshAhead: 20 * time.Second, RefreshIdle: true,
		RetryBackoff: time.Minute, MaxRetryBackoff: time.Hour,
	})
	ctx := context.Background()
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	l.setErr(errors.New("down"))
	clock.Advance(45 * time.Second)
	s.sweep()
	s.inflight.Wait()
	require.Equal(t, 2, l.count("k"))
	require.Equal(t, Stale, s.State("k"))

	// next retry is a minute out
	clock.Advance(10 * time.Second)
	s.sweep()
	s.inflight.Wait()
	require.Equal(t, 2, l.count("k"))
}

func TestSweepRateLimited(t *testing.T) {
	clock := newFakeClock()
	l := newCountingLoader()
	s := newTestStore(t, clock, Options[string, string]{
		Loader: l.load, TTL: time.Minute, RefreshAhead: 20 * time.Second, RefreshIdle: true,
		RefreshLimit: rate.Every(time.Millisecond), RefreshBurst: 1,
	})
	ctx := context.Background()
	keys := []string{"a", "b", "c", "d"}
	for _, k := range keys {
		_, err := s.Get(ctx, k)
		require.NoError(t, err)
	}

	clock.Advance(45 * time.Second)
	s.sweep()
	s.inflight.Wait()
	for _, k := range keys {
		require.Equal(t, 2, l.count(k), k)
	}
}

func TestRetentionEvictsIdleEntries(t *testing.T) {
	clock := newFakeClock()
	l := newCountingLoader()
	hooks := newHookRecorder()
	s := newTestStore(t, clock, Options[string, string]{
		Loader: l.load, TTL: time.Minute, Retention: 5 * time.Minute, Hooks: hooks,
	})
	ctx := context.Background()

	_, err := s.Get(ctx, "old")
	require.NoError(t, err)
	_, err = s.Get(ctx, "used")
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = s.Get(ctx, "used") // expired: reloads and resets its clock
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	s.sweep()
	require.Equal(t, 1, s.Len())
	require.Equal(t, Empty, s.State("old"))
	require.Equal(t, Stale, s.State("used"))
	require.EqualValues(t, 1, s.Stats().Evictions)
	require.Equal(t, 1, hooks.count("evicted"))
}

func TestSweepLoopRunsOnTicker(t *testing.T) {
	l := newCountingLoader()
	s, err := newStore(Options[string, string]{
		Name: "ticker", Loader: l.load, TTL: 200 * time.Millisecond, RefreshAhead: 150 * time.Millisecond,
		SweepInterval: 5 * time.Millisecond, RefreshIdle: true,
	})
	require.NoError(t, err)
	s.start()
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	_, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.count("k") >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSweepEvery(t *testing.T) {
	require.Equal(t, 5*time.Second, sweepEvery(5*time.Second, time.Minute, 0))
	require.Equal(t, time.Minute, sweepEvery(0, 0, 0))
	require.Equal(t, 10*time.Second, sweepEvery(0, 20*time.Second, 0))
	require.Equal(t, 30*time.Second, sweepEvery(0, 0, time.Minute))
	require.Equal(t, minSweep, sweepEvery(0, time.Millisecond, 0))
}

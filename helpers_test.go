package loadcache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pr "github.com/unkn0wn-root/loadcache/provider"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type memProvider struct {
	mu   sync.Mutex
	m    map[string][]byte
	gets atomic.Int64
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.gets.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[key]
	return b, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	p.m[key] = append([]byte(nil), value...)
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) raw(key string, b []byte) {
	p.mu.Lock()
	p.m[key] = b
	p.mu.Unlock()
}

// hookRecorder counts hook events by name.
type hookRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newHookRecorder() *hookRecorder { return &hookRecorder{counts: make(map[string]int)} }

func (h *hookRecorder) inc(ev string) {
	h.mu.Lock()
	h.counts[ev]++
	h.mu.Unlock()
}

func (h *hookRecorder) count(ev string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[ev]
}

func (h *hookRecorder) LoadFailed(string, any, int, error) { h.inc("load_failed") }
func (h *hookRecorder) StaleServed(string, any, error)     { h.inc("stale_served") }
func (h *hookRecorder) RefreshStarted(string, any)         { h.inc("refresh_started") }
func (h *hookRecorder) LoadCancelled(string, any)          { h.inc("load_cancelled") }
func (h *hookRecorder) Evicted(string, any, string)        { h.inc("evicted") }
func (h *hookRecorder) TierError(_ string, op string, _ error) {
	h.inc("tier_" + op)
}

// countingLoader returns "<key>#<n>" where n counts calls for that key.
type countingLoader struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newCountingLoader() *countingLoader { return &countingLoader{calls: make(map[string]int)} }

func (l *countingLoader) load(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[key]++
	if l.err != nil {
		return "", l.err
	}
	return key + "#" + strconv.Itoa(l.calls[key]), nil
}

func (l *countingLoader) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *countingLoader) count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

// newTestStore builds a started store on a fake clock and closes it with the test.
func newTestStore[V any](t *testing.T, clock *fakeClock, opts Options[string, V]) *store[string, V] {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "test"
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Hour // tests call sweep directly
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	opts.clock = clock.Now
	s, err := newStore(opts)
	require.NoError(t, err)
	s.start()
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func waitLoading[V any](t *testing.T, s *store[string, V], key string) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State(key) == Loading }, time.Second, time.Millisecond)
}

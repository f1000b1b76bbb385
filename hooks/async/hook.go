// Package asynchook moves loadcache hook calls off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{StaleServedEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	users, _ := loadcache.New(loadcache.Options[string, User]{
//	    Name:   "users",
//	    Loader: loadUser,
//	    Hooks:  hooks,
//	})
//
// Events are dropped, not queued, when the buffer is full; Dropped reports how
// many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/loadcache"
)

type Hooks struct {
	inner   loadcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against concurrent sends
	closed  bool
	dropped atomic.Uint64
}

var _ loadcache.Hooks = (*Hooks)(nil)

func New(inner loadcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = loadcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent afterwards
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) LoadFailed(cache string, key any, attempts int, err error) {
	h.try(func() { h.inner.LoadFailed(cache, key, attempts, err) })
}
func (h *Hooks) StaleServed(cache string, key any, err error) {
	h.try(func() { h.inner.StaleServed(cache, key, err) })
}
func (h *Hooks) RefreshStarted(cache string, key any) {
	h.try(func() { h.inner.RefreshStarted(cache, key) })
}
func (h *Hooks) LoadCancelled(cache string, key any) {
	h.try(func() { h.inner.LoadCancelled(cache, key) })
}
func (h *Hooks) Evicted(cache string, key any, reason string) {
	h.try(func() { h.inner.Evicted(cache, key, reason) })
}
func (h *Hooks) TierError(cache, op string, err error) {
	h.try(func() { h.inner.TierError(cache, op, err) })
}

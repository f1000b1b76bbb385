package loadcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Stats is a point-in-time snapshot of a store's counters.
type Stats struct {
	Hits         uint64 // Fresh values served
	StaleHits    uint64 // expired values served while a reload is pending or failing
	Misses       uint64 // calls that had to wait for a load
	Loads        uint64 // loads started (misses, refreshes, forced)
	Refreshes    uint64 // background and forced reloads
	LoadFailures uint64 // failures that reached callers
	StaleServed  uint64 // failures hidden by the resilience policy
	Cancelled    uint64 // loads cancelled by teardown
	Evictions    uint64
}

type counters struct {
	hits, staleHits, misses   atomic.Uint64
	loads, refreshes          atomic.Uint64
	loadFailures, staleServed atomic.Uint64
	cancelled, evictions      atomic.Uint64
}

type trigger uint8

const (
	triggerMiss   trigger = iota // a caller is blocked on the result
	triggerAhead                 // background refresh-ahead or stale revalidation
	triggerForced                // explicit Refresh
)

type store[K comparable, V any] struct {
	name    string
	loader  Loader[K, V]
	log     Logger
	hooks   Hooks
	enabled bool
	now     func() time.Time

	ttl          time.Duration
	refreshAhead time.Duration
	refreshIdle  bool
	retention    time.Duration
	drain        bool
	retry        retryPolicy
	resilience   resiliencePolicy
	tier         *tier[K, V]

	entries sync.Map // K -> *entry[K, V]
	size    atomic.Int64
	stats   counters

	// ctx bounds every load; cancelled on teardown.
	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	closed   atomic.Bool

	// background sweep
	limiter     *rate.Limiter
	sweepEvery  time.Duration
	ticker      *time.Ticker
	stopCh      chan struct{}
	sweepCtx    context.Context
	sweepCancel context.CancelFunc
	closeWg     sync.WaitGroup
	closeOnce   sync.Once
	closeErr    error
}

func newStore[K comparable, V any](opts Options[K, V]) (*store[K, V], error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("loadcache: name is required")
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("loadcache: loader is required for cache %q", opts.Name)
	}
	if opts.Provider != nil && opts.Codec == nil {
		return nil, fmt.Errorf("loadcache: codec is required when a provider is set (cache %q)", opts.Name)
	}
	if opts.TTL < 0 || opts.RefreshAhead < 0 || opts.Retention < 0 || opts.MaxRetries < 0 {
		return nil, fmt.Errorf("loadcache: negative duration or retry count for cache %q", opts.Name)
	}

	s := &store[K, V]{
		name:         opts.Name,
		loader:       opts.Loader,
		enabled:      !opts.Disabled,
		refreshAhead: opts.RefreshAhead,
		refreshIdle:  opts.RefreshIdle,
		retention:    opts.Retention,
		drain:        opts.DrainOnClose,
	}

	// defaults
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.ttl = coalesce(opts.TTL, defaultTTL)
	if s.refreshAhead >= s.ttl {
		return nil, fmt.Errorf("loadcache: refresh-ahead window %s must be shorter than ttl %s (cache %q)",
			s.refreshAhead, s.ttl, opts.Name)
	}
	s.now = time.Now
	if opts.clock != nil {
		s.now = opts.clock
	}
	s.retry = retryPolicy{
		maxRetries: opts.MaxRetries,
		base:       coalesce(opts.RetryBackoff, defaultRetryBackoff),
		max:        coalesce(opts.MaxRetryBackoff, defaultMaxRetryBackoff),
		jitter:     opts.RetryJitter,
	}
	s.resilience = resiliencePolicy{window: coalesce(opts.ResilienceDuration, 2*s.ttl)}
	if opts.RefreshLimit > 0 {
		s.limiter = rate.NewLimiter(opts.RefreshLimit, max(opts.RefreshBurst, 1))
	}
	s.sweepEvery = sweepEvery(opts.SweepInterval, s.refreshAhead, s.retention)

	if opts.Provider != nil {
		keyFn := opts.KeyString
		if keyFn == nil {
			keyFn = func(k K) string { return fmt.Sprint(k) }
		}
		s.tier = &tier[K, V]{
			cache:    s.name,
			provider: opts.Provider,
			codec:    opts.Codec,
			keyFn:    keyFn,
			log:      s.log,
			hooks:    s.hooks,
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// start launches the background sweep. Split from newStore so a Registry can
// discard a store that lost a name race without ever running it.
func (s *store[K, V]) start() {
	if !s.enabled || (s.refreshAhead <= 0 && s.retention <= 0) {
		return
	}
	s.ticker = time.NewTicker(s.sweepEvery)
	s.stopCh = make(chan struct{})
	s.sweepCtx, s.sweepCancel = context.WithCancel(s.ctx)
	s.closeWg.Add(1)
	go s.sweepLoop()
}

func (s *store[K, V]) Name() string  { return s.name }
func (s *store[K, V]) Enabled() bool { return s.enabled }

// entry returns the entry for key, creating it on first reference.
func (s *store[K, V]) entry(key K) *entry[K, V] {
	if v, ok := s.entries.Load(key); ok {
		return v.(*entry[K, V])
	}
	v, loaded := s.entries.LoadOrStore(key, newEntry[K, V](key))
	if !loaded {
		s.size.Add(1)
	}
	return v.(*entry[K, V])
}

// servable reports whether an expired value may still be returned without
// blocking: a reload is pending, the last reload failed, or the entry is
// maintained by refresh-ahead. The resilience window bounds all three.
// Caller holds e.mu.
func (s *store[K, V]) servable(e *entry[K, V], now time.Time) bool {
	if !e.hasValue || !s.resilience.allows(e.loadedAt, now) {
		return false
	}
	return e.flight != nil || e.lastErr != nil || s.refreshAhead > 0
}

func (s *store[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	if s.closed.Load() {
		return zero, ErrClosed
	}
	if !s.enabled {
		return s.callLoader(ctx, key)
	}
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if s.closed.Load() {
			e.mu.Unlock()
			return zero, ErrClosed
		}
		now := s.now()
		e.lastAccess = now

		if e.fresh(now) {
			v := e.value
			e.touched = true
			if e.flight == nil && e.inWindow(now, s.refreshAhead) && !now.Before(e.retryAt) {
				s.startFlight(e, triggerAhead)
			}
			e.mu.Unlock()
			s.stats.hits.Add(1)
			return v, nil
		}
		if s.servable(e, now) {
			v := e.value
			e.touched = true
			if e.flight == nil && !now.Before(e.retryAt) {
				s.startFlight(e, triggerAhead)
			}
			e.mu.Unlock()
			s.stats.staleHits.Add(1)
			return v, nil
		}

		f := e.flight
		if f == nil {
			f = s.startFlight(e, triggerMiss)
		}
		e.mu.Unlock()
		s.stats.misses.Add(1)
		return f.wait(ctx)
	}
}

func (s *store[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			v, err := s.Get(gctx, k)
			if err != nil {
				return err
			}
			mu.Lock()
			out[k] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store[K, V]) Peek(key K) (V, bool) {
	var zero V
	v, ok := s.entries.Load(key)
	if !ok || s.closed.Load() {
		return zero, false
	}
	e := v.(*entry[K, V])
	e.mu.Lock()
	defer e.mu.Unlock()
	now := s.now()
	if e.removed || !(e.fresh(now) || s.servable(e, now)) {
		return zero, false
	}
	return e.value, true
}

func (s *store[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.enabled {
		return nil
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		e.gen++
		gen := e.gen
		e.put(value, now, now.Add(ttl))
		e.lastAccess = now
		if f := e.flight; f != nil {
			// waiters get the put value; the loader result is discarded
			e.flight = nil
			f.complete(value, nil)
		}
		e.mu.Unlock()
		s.mirror(ctx, e, gen, value, now, now.Add(ttl), ttl)
		return nil
	}
}

func (s *store[K, V]) Refresh(ctx context.Context, key K) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.enabled {
		return nil
	}
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if s.closed.Load() {
			e.mu.Unlock()
			return ErrClosed
		}
		e.lastAccess = s.now()
		f := e.flight
		if f == nil {
			f = s.startFlight(e, triggerForced)
		}
		e.mu.Unlock()
		_, err := f.wait(ctx)
		return err
	}
}

func (s *store[K, V]) Invalidate(ctx context.Context, key K) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var e *entry[K, V]
	if v, ok := s.entries.Load(key); ok {
		e = v.(*entry[K, V])
	}
	s.forget(ctx, e, key)
	s.log.Debug("invalidated key", Fields{"cache": s.name, "key": key})
	return nil
}

func (s *store[K, V]) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.entries.Range(func(k, v any) bool {
		s.forget(ctx, v.(*entry[K, V]), k.(K))
		return true
	})
	return nil
}

// remove drops e from the map. An attached flight keeps running for its
// waiters but can no longer publish.
func (s *store[K, V]) remove(e *entry[K, V]) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	e.drop()
	if s.entries.CompareAndDelete(e.key, e) {
		s.size.Add(-1)
	}
	return true
}

func (s *store[K, V]) State(key K) State {
	v, ok := s.entries.Load(key)
	if !ok {
		return Empty
	}
	e := v.(*entry[K, V])
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status(s.now())
}

func (s *store[K, V]) Len() int { return int(s.size.Load()) }

func (s *store[K, V]) Stats() Stats {
	return Stats{
		Hits:         s.stats.hits.Load(),
		StaleHits:    s.stats.staleHits.Load(),
		Misses:       s.stats.misses.Load(),
		Loads:        s.stats.loads.Load(),
		Refreshes:    s.stats.refreshes.Load(),
		LoadFailures: s.stats.loadFailures.Load(),
		StaleServed:  s.stats.staleServed.Load(),
		Cancelled:    s.stats.cancelled.Load(),
		Evictions:    s.stats.evictions.Load(),
	}
}

// Close stops the sweep and tears the store down. In-flight loads are
// cancelled (waiters get ErrCancelled) unless DrainOnClose is set, in which
// case they finish, reach their waiters and are discarded. ctx bounds the
// wait; when it expires the remaining loads are cancelled.
// Every later operation returns ErrClosed.
func (s *store[K, V]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stopCh != nil {
			close(s.stopCh)
			s.sweepCancel()
			s.closeWg.Wait()
			s.ticker.Stop()
		}
		if s.drain {
			s.fence()
		} else {
			s.cancelFlights()
		}

		done := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.cancelFlights()
			s.closeErr = ctx.Err()
		}
		s.cancel()

		if s.tier != nil {
			if err := s.tier.close(ctx); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		s.log.Debug("cache closed", Fields{"cache": s.name, "entries": s.Len()})
	})
	return s.closeErr
}

// fence waits out every entry lock held by a caller that saw the store open,
// so no flight can be added once Close starts waiting.
func (s *store[K, V]) fence() {
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry[K, V])
		e.mu.Lock()
		e.mu.Unlock() //nolint:staticcheck // empty critical section is the point
		return true
	})
}

// cancelFlights releases every waiter with ErrCancelled, then cancels the
// loaders' context. Late loader results find their flight completed and are
// dropped.
func (s *store[K, V]) cancelFlights() {
	var zero V
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry[K, V])
		e.mu.Lock()
		if f := e.flight; f != nil {
			e.flight = nil
			e.state = settled(e)
			if f.complete(zero, cancelled(s.name)) {
				s.stats.cancelled.Add(1)
				s.hooks.LoadCancelled(s.name, e.key)
			}
		}
		e.mu.Unlock()
		return true
	})
	s.cancel()
}

package loadcache

import (
	"context"
	"runtime/debug"
	"time"
)

// flight is one loader invocation shared by every caller of a key.
// val, err and completed are written under the owning entry's mu before done
// is closed; readers only look at them after <-done.
type flight[V any] struct {
	done      chan struct{}
	val       V
	err       error
	completed bool
}

// complete publishes the outcome. Caller holds the entry mu.
func (f *flight[V]) complete(v V, err error) bool {
	if f.completed {
		return false
	}
	f.val, f.err = v, err
	f.completed = true
	close(f.done)
	return true
}

func (f *flight[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// startFlight attaches a new load to e and runs the loader in the background.
// The load runs under the store context, never under a caller's: a caller
// that gives up stops waiting but does not fail the others.
// Caller holds e.mu and has checked that e.flight is nil and the store is open.
func (s *store[K, V]) startFlight(e *entry[K, V], t trigger) *flight[V] {
	f := &flight[V]{done: make(chan struct{})}
	e.flight = f
	e.state = Loading
	gen := e.gen
	warm := t == triggerMiss && !e.hasValue && s.tier != nil

	s.stats.loads.Add(1)
	if t != triggerMiss {
		s.stats.refreshes.Add(1)
		s.hooks.RefreshStarted(s.name, e.key)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.runFlight(e, f, gen, warm)
	}()
	return f
}

func (s *store[K, V]) runFlight(e *entry[K, V], f *flight[V], gen uint64, warm bool) {
	ctx := s.ctx

	if warm {
		if v, at, exp, ok := s.tier.get(ctx, e.key); ok && s.now().Before(exp) {
			s.settleSuccess(e, f, gen, v, at, exp)
			return
		}
	}

	v, attempts, errs := s.invoke(ctx, e.key)
	if errs == nil {
		at := s.now()
		exp := at.Add(s.ttl)
		if s.settleSuccess(e, f, gen, v, at, exp) {
			s.mirror(ctx, e, gen, v, at, exp, s.ttl)
		}
		return
	}
	s.settleFailure(e, f, gen, attempts, errs)
}

// settleSuccess stores v unless the entry moved on, then releases waiters.
// It reports whether v was published into the store.
func (s *store[K, V]) settleSuccess(e *entry[K, V], f *flight[V], gen uint64, v V, loadedAt, expiresAt time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flight == f {
		e.flight = nil
	}
	closed := s.closed.Load()
	publish := !f.completed && !e.removed && e.gen == gen && !closed
	if publish {
		e.put(v, loadedAt, expiresAt)
	} else if e.state == Loading && e.flight == nil {
		e.state = settled(e)
	}
	if closed && !s.drain {
		var zero V
		f.complete(zero, cancelled(s.name))
	} else {
		f.complete(v, nil)
	}
	if !publish {
		s.log.Debug("load result discarded", Fields{"cache": s.name, "key": e.key})
	}
	return publish
}

// settleFailure applies the resilience policy and releases waiters.
func (s *store[K, V]) settleFailure(e *entry[K, V], f *flight[V], gen uint64, attempts int, errs []error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.flight == f {
		e.flight = nil
	}
	var zero V
	lerr := &LoadError{Cache: s.name, Key: e.key, Attempts: attempts, Errs: errs}
	if f.completed {
		return
	}
	if closed := s.closed.Load(); closed || e.removed || e.gen != gen {
		// nothing to fall back on that belongs to this load
		if e.state == Loading && e.flight == nil {
			e.state = settled(e)
		}
		if closed && !s.drain {
			f.complete(zero, cancelled(s.name))
			return
		}
		f.complete(zero, lerr)
		return
	}

	now := s.now()
	serveStale := e.hasValue && s.resilience.allows(e.loadedAt, now)
	e.markFailed(lerr, now.Add(s.retry.delay(e.failures)))
	if serveStale {
		s.stats.staleServed.Add(1)
		s.hooks.StaleServed(s.name, e.key, lerr)
		s.log.Warn("load failed; serving stale value", Fields{
			"cache":    s.name,
			"key":      e.key,
			"attempts": attempts,
			"loadedAt": e.loadedAt,
			"err":      lerr,
		})
		f.complete(e.value, nil)
		return
	}

	s.stats.loadFailures.Add(1)
	s.hooks.LoadFailed(s.name, e.key, attempts, lerr)
	s.log.Error("load failed", Fields{"cache": s.name, "key": e.key, "attempts": attempts, "err": lerr})
	f.complete(zero, lerr)
}

// settled is the resting state of an entry after its flight was detached.
func settled[K comparable, V any](e *entry[K, V]) State {
	switch {
	case e.removed:
		return Empty
	case e.lastErr != nil && e.hasValue:
		return Stale
	case e.lastErr != nil:
		return Failed
	case e.hasValue:
		return Fresh
	default:
		return Empty
	}
}

// callLoader runs one attempt, turning a panic into an error.
func (s *store[K, V]) callLoader(ctx context.Context, key K) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(&PanicError{Value: r, Stack: string(debug.Stack())})
		}
	}()
	return s.loader(ctx, key)
}

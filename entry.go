package loadcache

import (
	"sync"
	"time"
)

// State is the lifecycle state of a cached key.
type State uint8

const (
	Empty   State = iota // never loaded, or removed
	Loading              // a load is in flight
	Fresh                // value present and not expired
	Stale                // value present but expired, or its last refresh failed
	Failed               // last load failed and there is no value to fall back on
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// entry is one key of a store. Every field except tierMu is guarded by mu.
type entry[K comparable, V any] struct {
	mu  sync.Mutex
	key K

	state    State
	value    V
	hasValue bool

	loadedAt   time.Time // last successful load or Put
	expiresAt  time.Time
	lastAccess time.Time
	touched    bool // read since the last load

	lastErr  error
	failures int       // consecutive failed loads
	retryAt  time.Time // no background reload before this

	// gen is bumped whenever the entry is overwritten or dropped so that a
	// load started earlier cannot publish over it.
	gen     uint64
	flight  *flight[V]
	removed bool

	// tierMu orders provider writes for this key. Held across provider I/O,
	// never together with a caller waiting on mu.
	tierMu sync.Mutex
}

func newEntry[K comparable, V any](key K) *entry[K, V] {
	return &entry[K, V]{key: key}
}

func (e *entry[K, V]) fresh(now time.Time) bool {
	return e.hasValue && now.Before(e.expiresAt)
}

// inWindow reports whether the entry is due for a refresh-ahead reload.
func (e *entry[K, V]) inWindow(now time.Time, window time.Duration) bool {
	return window > 0 && e.hasValue && !now.Before(e.expiresAt.Add(-window))
}

func (e *entry[K, V]) status(now time.Time) State {
	if e.flight != nil {
		return Loading
	}
	if e.state == Fresh && !e.fresh(now) {
		return Stale
	}
	return e.state
}

// put stores value as Fresh. Caller holds mu.
func (e *entry[K, V]) put(value V, loadedAt, expiresAt time.Time) {
	e.value = value
	e.hasValue = true
	e.loadedAt = loadedAt
	e.expiresAt = expiresAt
	e.state = Fresh
	e.touched = false
	e.lastErr = nil
	e.failures = 0
	e.retryAt = time.Time{}
}

// markFailed records a failed load. An existing value is kept and the entry
// becomes Stale; without one it becomes Failed. Caller holds mu.
func (e *entry[K, V]) markFailed(err error, retryAt time.Time) {
	e.lastErr = err
	e.failures++
	e.retryAt = retryAt
	if e.hasValue {
		e.state = Stale
		return
	}
	e.state = Failed
}

// drop detaches the entry from its store. Caller holds mu.
func (e *entry[K, V]) drop() {
	var zero V
	e.removed = true
	e.gen++
	e.value = zero
	e.hasValue = false
	e.state = Empty
	e.flight = nil
}

package loadcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/loadcache/codec"
	pr "github.com/unkn0wn-root/loadcache/provider"
	"golang.org/x/time/rate"
)

// Loader computes the value for key. It is bound to a cache once, at
// creation, and is never rebound for the lifetime of that cache.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Store is a single named loading cache.
// Every key has at most one loader invocation in flight; all callers waiting
// on a key observe the same outcome.
type Store[K comparable, V any] interface {
	Name() string
	Enabled() bool
	Close(context.Context) error

	// Get returns the cached value, loading it on a miss.
	// A stale value may be returned when the last load failed inside the
	// resilience window.
	Get(ctx context.Context, key K) (V, error)
	// GetAll loads every key concurrently. Any failure fails the whole call.
	GetAll(ctx context.Context, keys []K) (map[K]V, error)
	// Peek returns a servable value without triggering a load.
	Peek(key K) (V, bool)

	// Put stores value as Fresh. ttl <= 0 uses Options.TTL.
	Put(ctx context.Context, key K, value V, ttl time.Duration) error
	// Refresh forces a coordinated reload of key and waits for it.
	Refresh(ctx context.Context, key K) error
	Invalidate(ctx context.Context, key K) error
	Clear(ctx context.Context) error

	State(key K) State
	Len() int
	Stats() Stats
}

// Options configure a Store. Name and Loader are required; everything else
// has a usable default.
type Options[K comparable, V any] struct {
	// Required
	Name   string // cache name, unique within a Registry
	Loader Loader[K, V]

	TTL                time.Duration // fresh lifetime; 0 => 10m
	RefreshAhead       time.Duration // lead window before expiry; 0 => disabled
	SweepInterval      time.Duration // 0 => derived from RefreshAhead/Retention
	RefreshIdle        bool          // refresh entries not read since their last load too
	RefreshLimit       rate.Limit    // background refreshes per second; 0 => unlimited
	RefreshBurst       int           // 0 => 1
	ResilienceDuration time.Duration // stale-on-error window from last success; 0 => 2*TTL, <0 => disabled
	MaxRetries         int           // extra attempts per load; 0 => none
	RetryBackoff       time.Duration // first retry delay; 0 => 100ms
	MaxRetryBackoff    time.Duration // 0 => 10s
	RetryJitter        float64       // ±fraction of each delay; 0 => none
	Retention          time.Duration // evict entries expired and unread for this long; 0 => never
	DrainOnClose       bool          // default false => in-flight loads are cancelled on Close
	Disabled           bool          // pass-through: every Get calls Loader

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// Optional provider tier. Codec is required when Provider is set.
	Provider  pr.Provider
	Codec     c.Codec[V]
	KeyString func(K) string // nil => fmt.Sprint

	clock func() time.Time
}

// New builds a standalone Store that is not registered anywhere.
// The caller owns it and must Close it.
func New[K comparable, V any](opts Options[K, V]) (Store[K, V], error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	s.start()
	return s, nil
}

package loadcache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger Logger // nil => NopLogger
}

// Registry maps cache names to stores. A name is created once; Lookup never
// creates. The lock guards the name map only and is never held during a load.
type Registry struct {
	mu     sync.RWMutex
	stores map[string]registered
	closed bool
	log    Logger
}

type registered struct {
	store interface {
		Name() string
		Close(context.Context) error
	}
	// binding identifies the loader a store was resolved for; nil when the
	// store was created directly.
	binding any
}

// NewRegistry returns an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		stores: make(map[string]registered),
		log:    coalesce[Logger](opts.Logger, NopLogger{}),
	}
}

// Create builds and registers a store under opts.Name. A name that is already
// registered fails with ErrAlreadyExists and leaves the existing store as is.
func Create[K comparable, V any](r *Registry, opts Options[K, V]) (Store[K, V], error) {
	s, err := register(r, opts, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve returns the store registered under opts.Name for binding, creating
// it on first use. binding identifies the loader (for example the method and
// target it calls) and must be comparable. Resolving an existing name with a
// different binding fails with ErrBindingConflict; resolving a name that was
// registered with Create fails with ErrAlreadyExists. The store a name was
// first resolved with is returned unchanged; opts are ignored then.
func Resolve[K comparable, V any](r *Registry, binding any, opts Options[K, V]) (Store[K, V], error) {
	if binding == nil || !reflect.TypeOf(binding).Comparable() {
		return nil, fmt.Errorf("loadcache: binding for cache %q must be a non-nil comparable value", opts.Name)
	}
	r.mu.RLock()
	reg, ok := r.stores[opts.Name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return existing[K, V](reg, opts.Name, binding)
	}

	s, err := register(r, opts, binding)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return nil, err
	}
	// lost a race for the name; the winner may share our binding
	r.mu.RLock()
	reg, ok = r.stores[opts.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, err
	}
	return existing[K, V](reg, opts.Name, binding)
}

func existing[K comparable, V any](reg registered, name string, binding any) (Store[K, V], error) {
	if reg.binding == nil {
		return nil, fmt.Errorf("%w: %q was not created by Resolve", ErrAlreadyExists, name)
	}
	if reg.binding != binding {
		return nil, fmt.Errorf("%w: %q is bound to %v, not %v", ErrBindingConflict, name, reg.binding, binding)
	}
	return typed[K, V](reg, name)
}

func register[K comparable, V any](r *Registry, opts Options[K, V], binding any) (*store[K, V], error) {
	// build outside the lock; a loser is discarded before it ever starts
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.cancel()
		return nil, ErrClosed
	}
	if _, dup := r.stores[s.name]; dup {
		r.mu.Unlock()
		s.cancel()
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, s.name)
	}
	r.stores[s.name] = registered{store: s, binding: binding}
	r.mu.Unlock()

	s.start()
	r.log.Info("cache created", Fields{"cache": s.name, "ttl": s.ttl, "refreshAhead": s.refreshAhead, "enabled": s.enabled})
	return s, nil
}

// Lookup returns the store registered under name. It never creates one.
func Lookup[K comparable, V any](r *Registry, name string) (Store[K, V], error) {
	r.mu.RLock()
	reg, ok := r.stores[name]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return typed[K, V](reg, name)
}

func typed[K comparable, V any](reg registered, name string) (Store[K, V], error) {
	s, ok := reg.store.(*store[K, V])
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T", ErrTypeMismatch, name, reg.store)
	}
	return s, nil
}

// Get looks name up and reads key from it.
func Get[K comparable, V any](ctx context.Context, r *Registry, name string, key K) (V, error) {
	s, err := Lookup[K, V](r, name)
	if err != nil {
		var zero V
		return zero, err
	}
	return s.Get(ctx, key)
}

// Invalidate looks name up and drops key from it.
func Invalidate[K comparable, V any](ctx context.Context, r *Registry, name string, key K) error {
	s, err := Lookup[K, V](r, name)
	if err != nil {
		return err
	}
	return s.Invalidate(ctx, key)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for n := range r.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Remove unregisters name and closes its store. The name can be created again
// once Remove returns.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	reg, ok := r.stores[name]
	delete(r.stores, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	err := reg.store.Close(ctx)
	r.log.Info("cache removed", Fields{"cache": name})
	return err
}

// Close closes every registered store. Later calls on the registry return
// ErrClosed; errors from individual stores are aggregated.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]registered)
	r.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for name, reg := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.store.Close(ctx); err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("cache %q: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	r.log.Info("registry closed", Fields{"caches": len(stores)})
	return result.ErrorOrNil()
}

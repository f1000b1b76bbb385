// Package resolver binds a cacheable method to a set of named loading caches
// on first use.
//
// An Invocation describes a call site: the cache names it is annotated with,
// the receiver and method it calls, and the method's parameter count. The
// first Resolve for a name set creates one store per name, all sharing the
// call site's loader. Later resolutions of the same set must come from the
// same target and method.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/unkn0wn-root/loadcache"
)

// ErrCompositeKey is returned for methods that do not take exactly one
// parameter; the parameter is the cache key.
var ErrCompositeKey = errors.New("resolver: only single-parameter methods are supported")

// Invocation identifies a cacheable call site.
type Invocation struct {
	CacheNames []string
	Target     any    // receiver; compared by ==, so pointers compare by identity
	Method     string // method name on Target
	Params     int    // parameter count of Method
}

type binding struct {
	target any
	method string
}

func (b binding) String() string { return fmt.Sprintf("%T.%s", b.target, b.method) }

type resolved[K comparable, V any] struct {
	binding binding
	stores  []loadcache.Store[K, V]
}

// Resolver hands out the stores of annotated call sites, creating them in a
// Registry on first use. It is safe for concurrent use.
type Resolver[K comparable, V any] struct {
	reg     *loadcache.Registry
	optsFor func(name string) loadcache.Options[K, V]

	mu   sync.Mutex
	sets map[string]*resolved[K, V] // joined sorted names -> stores
}

// New returns a Resolver creating stores in reg. optsFor supplies per-name
// options (TTL, refresh, resilience); Name and Loader are always overwritten.
// A nil optsFor uses defaults.
func New[K comparable, V any](reg *loadcache.Registry, optsFor func(name string) loadcache.Options[K, V]) *Resolver[K, V] {
	if optsFor == nil {
		optsFor = func(string) loadcache.Options[K, V] { return loadcache.Options[K, V]{} }
	}
	return &Resolver[K, V]{reg: reg, optsFor: optsFor, sets: make(map[string]*resolved[K, V])}
}

// Resolve returns the stores for inv.CacheNames, sorted by name. load is bound
// to them on the first call for the name set and ignored afterwards.
func (r *Resolver[K, V]) Resolve(inv Invocation, load loadcache.Loader[K, V]) ([]loadcache.Store[K, V], error) {
	if len(inv.CacheNames) == 0 {
		return nil, errors.New("resolver: no cache names")
	}
	if inv.Target == nil || !reflect.TypeOf(inv.Target).Comparable() {
		return nil, fmt.Errorf("resolver: target %T is not comparable", inv.Target)
	}
	b := binding{target: inv.Target, method: inv.Method}
	names := slices.Clone(inv.CacheNames)
	slices.Sort(names)
	names = slices.Compact(names)
	setKey := strings.Join(names, "\x00")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	if rs, ok := r.sets[setKey]; ok {
		if rs.binding != b {
			return nil, fmt.Errorf("%w: caches %v are bound to %s, not %s",
				loadcache.ErrBindingConflict, names, rs.binding, b)
		}
		return rs.stores, nil
	}
	if inv.Params != 1 {
		return nil, fmt.Errorf("%w: %s takes %d", ErrCompositeKey, b, inv.Params)
	}
	if load == nil {
		return nil, errors.New("resolver: nil loader")
	}

	owned := r.owned()
	registered := r.reg.Names()
	stores := make([]loadcache.Store[K, V], 0, len(names))
	var created []string
	for _, name := range names {
		if slices.Contains(owned, name) {
			// already part of another name set
			r.rollback(created)
			return nil, fmt.Errorf("%w: %q", loadcache.ErrAlreadyExists, name)
		}
		opts := r.optsFor(name)
		opts.Name = name
		opts.Loader = load
		s, err := loadcache.Resolve(r.reg, b, opts)
		if err != nil {
			r.rollback(created)
			return nil, err
		}
		if _, found := slices.BinarySearch(registered, name); !found {
			created = append(created, name)
		}
		stores = append(stores, s)
	}
	r.sets[setKey] = &resolved[K, V]{binding: b, stores: stores}
	return stores, nil
}

// prune forgets name sets that lost a store to Registry.Remove or Close, so
// their names resolve afresh. Caller holds mu.
func (r *Resolver[K, V]) prune() {
	for key, rs := range r.sets {
		for _, s := range rs.stores {
			cur, err := loadcache.Lookup[K, V](r.reg, s.Name())
			if err != nil || cur != s {
				delete(r.sets, key)
				break
			}
		}
	}
}

// owned lists names held by previously resolved sets. Caller holds mu.
func (r *Resolver[K, V]) owned() []string {
	var out []string
	for _, rs := range r.sets {
		for _, s := range rs.stores {
			out = append(out, s.Name())
		}
	}
	return out
}

// rollback removes stores created by a Resolve call that failed part way.
func (r *Resolver[K, V]) rollback(names []string) {
	for _, name := range names {
		_ = r.reg.Remove(context.Background(), name)
	}
}

package loadcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/loadcache/codec"
	"github.com/unkn0wn-root/loadcache/internal/wire"
	pr "github.com/unkn0wn-root/loadcache/provider"
)

// tier mirrors loaded values into a byte provider so a cold entry can be
// adopted instead of calling the loader. It fails soft: provider and codec
// errors are logged and reported, never returned to callers.
// All methods are no-ops on a nil tier.
type tier[K comparable, V any] struct {
	cache    string
	provider pr.Provider
	codec    c.Codec[V]
	keyFn    func(K) string
	log      Logger
	hooks    Hooks
}

func (t *tier[K, V]) storageKey(key K) string {
	// isolate by cache name
	return "entry:" + t.cache + ":" + t.keyFn(key)
}

func (t *tier[K, V]) get(ctx context.Context, key K) (v V, loadedAt, expiresAt time.Time, ok bool) {
	if t == nil {
		return v, loadedAt, expiresAt, false
	}
	k := t.storageKey(key)
	raw, hit, err := t.provider.Get(ctx, k)
	if err != nil {
		t.fail("get", k, err)
		return v, loadedAt, expiresAt, false
	}
	if !hit {
		return v, loadedAt, expiresAt, false
	}
	loadedAt, expiresAt, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		_ = t.provider.Del(ctx, k) // self-heal corrupt
		t.fail("decode", k, err)
		return v, loadedAt, expiresAt, false
	}
	v, err = t.codec.Decode(payload)
	if err != nil {
		_ = t.provider.Del(ctx, k)
		t.fail("decode", k, err)
		return v, loadedAt, expiresAt, false
	}
	return v, loadedAt, expiresAt, true
}

func (t *tier[K, V]) put(ctx context.Context, key K, v V, loadedAt, expiresAt time.Time, ttl time.Duration) {
	if t == nil {
		return
	}
	k := t.storageKey(key)
	payload, err := t.codec.Encode(v)
	if err != nil {
		t.fail("encode", k, err)
		return
	}
	ok, err := t.provider.Set(ctx, k, wire.EncodeEntry(loadedAt, expiresAt, payload), 1, ttl)
	if err != nil {
		t.fail("set", k, err)
		return
	}
	if !ok {
		t.log.Debug("provider rejected write (pressure)", Fields{"cache": t.cache, "key": k})
	}
}

func (t *tier[K, V]) del(ctx context.Context, key K) {
	if t == nil {
		return
	}
	k := t.storageKey(key)
	if err := t.provider.Del(ctx, k); err != nil {
		t.fail("del", k, err)
	}
}

func (t *tier[K, V]) close(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.provider.Close(ctx)
}

func (t *tier[K, V]) fail(op, storageKey string, err error) {
	t.hooks.TierError(t.cache, op, err)
	t.log.Warn("provider tier "+op+" failed", Fields{"cache": t.cache, "key": storageKey, "err": err})
}

// mirror writes v through to the tier on behalf of e at generation gen. A Put
// or Invalidate that moved e past gen wins: the write is skipped.
func (s *store[K, V]) mirror(ctx context.Context, e *entry[K, V], gen uint64, v V, loadedAt, expiresAt time.Time, ttl time.Duration) {
	if s.tier == nil {
		return
	}
	e.tierMu.Lock()
	defer e.tierMu.Unlock()
	e.mu.Lock()
	current := !e.removed && e.gen == gen
	e.mu.Unlock()
	if !current {
		s.log.Debug("tier write skipped; entry moved on", Fields{"cache": s.name, "key": e.key})
		return
	}
	s.tier.put(ctx, e.key, v, loadedAt, expiresAt, ttl)
}

// forget removes e and deletes key from the tier. The delete happens first
// and under tierMu, so neither a write-through of e already in progress nor
// the warm start of a newer entry for key can bring the old value back.
// e may be nil when the key has no entry.
func (s *store[K, V]) forget(ctx context.Context, e *entry[K, V], key K) {
	if s.tier == nil {
		if e != nil {
			s.remove(e)
		}
		return
	}
	if e == nil {
		s.tier.del(ctx, key)
		return
	}
	e.tierMu.Lock()
	defer e.tierMu.Unlock()
	s.tier.del(ctx, key)
	s.remove(e)
}

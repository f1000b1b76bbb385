package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/loadcache"
)

type recorder struct {
	loadcache.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(ev string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) LoadFailed(cache string, _ any, _ int, _ error) { r.add("failed:" + cache) }
func (r *recorder) Evicted(cache string, _ any, reason string)     { r.add("evicted:" + reason) }

func TestForwardsAndDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 2, 16)

	h.LoadFailed("users", 1, 3, errors.New("boom"))
	h.Evicted("users", 1, "retention")
	h.Close()

	require.ElementsMatch(t, []string{"failed:users", "evicted:retention"}, rec.events)

	h.LoadFailed("users", 2, 1, nil) // after close
	require.Len(t, rec.events, 2)
	require.EqualValues(t, 1, h.Dropped())
	h.Close() // idempotent
}

func TestDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	// one event held by the worker, one buffered, the rest dropped
	for i := 0; i < 10; i++ {
		h.Evicted("users", i, "retention")
	}
	require.GreaterOrEqual(t, h.Dropped(), uint64(8))
	close(rec.block)
	h.Close()
}

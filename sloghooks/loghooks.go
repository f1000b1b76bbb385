// Package sloghooks reports loadcache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/loadcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	StaleServedEvery uint64
	EvictedEvery     uint64
	// Optional key redactor. Defaults to a SHA-256 prefix of fmt.Sprint(key).
	Redact func(any) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	staleCtr   atomic.Uint64
	evictedCtr atomic.Uint64
}

var _ loadcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k any) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(fmt.Sprint(k)))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) LoadFailed(cache string, key any, attempts int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("loadcache.load_failed",
		"cache", cache,
		"key", h.redact(key),
		"attempts", attempts,
		"err", err)
}

func (h *Hooks) StaleServed(cache string, key any, err error) {
	if h.l == nil || !sample(h.opts.StaleServedEvery, &h.staleCtr) {
		return
	}
	h.l.Warn("loadcache.stale_served",
		"cache", cache,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) RefreshStarted(cache string, key any) {
	if h.l == nil {
		return
	}
	h.l.Debug("loadcache.refresh_started",
		"cache", cache,
		"key", h.redact(key))
}

func (h *Hooks) LoadCancelled(cache string, key any) {
	if h.l == nil {
		return
	}
	h.l.Info("loadcache.load_cancelled",
		"cache", cache,
		"key", h.redact(key))
}

func (h *Hooks) Evicted(cache string, key any, reason string) {
	if h.l == nil || !sample(h.opts.EvictedEvery, &h.evictedCtr) {
		return
	}
	h.l.Debug("loadcache.evicted",
		"cache", cache,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) TierError(cache, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("loadcache.tier_error",
		"cache", cache,
		"op", op,
		"err", err)
}

package loadcache

import "time"

func (s *store[K, V]) sweepLoop() {
	defer s.closeWg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep walks every entry once. Entries inside the refresh window get a
// background reload; entries expired and unread for longer than retention are
// evicted. Nothing here blocks a reader for longer than one entry lock.
func (s *store[K, V]) sweep() {
	now := s.now()
	var due []*entry[K, V]
	var evicted int

	s.entries.Range(func(_, v any) bool {
		e := v.(*entry[K, V])
		e.mu.Lock()
		switch {
		case e.removed || e.flight != nil:
		case s.expired(e, now):
			e.drop()
			if s.entries.CompareAndDelete(e.key, e) {
				s.size.Add(-1)
			}
			evicted++
			s.stats.evictions.Add(1)
			s.hooks.Evicted(s.name, e.key, "retention")
		case s.refreshDue(e, now):
			due = append(due, e)
		}
		e.mu.Unlock()
		return true
	})

	if evicted > 0 {
		s.log.Debug("sweep evicted idle entries", Fields{"cache": s.name, "evicted": evicted})
	}

	started := 0
	for _, e := range due {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.sweepCtx); err != nil {
				break
			}
		}
		e.mu.Lock()
		// re-check: a reader may have beaten us to it
		if !e.removed && e.flight == nil && !s.closed.Load() && s.refreshDue(e, s.now()) {
			s.startFlight(e, triggerAhead)
			started++
		}
		e.mu.Unlock()
	}
	if started > 0 {
		s.log.Debug("sweep started refreshes", Fields{"cache": s.name, "refreshes": started, "due": len(due)})
	}
}

// refreshDue reports whether e should be reloaded ahead of its expiry.
// Entries nobody read since their last load are left to expire unless
// RefreshIdle is set. Caller holds e.mu.
func (s *store[K, V]) refreshDue(e *entry[K, V], now time.Time) bool {
	if !e.inWindow(now, s.refreshAhead) || now.Before(e.retryAt) {
		return false
	}
	if !e.fresh(now) && !s.resilience.allows(e.loadedAt, now) {
		// too old to serve; the next reader loads it synchronously
		return false
	}
	return s.refreshIdle || e.touched
}

// expired reports whether e passed its retention. Caller holds e.mu.
func (s *store[K, V]) expired(e *entry[K, V], now time.Time) bool {
	if s.retention <= 0 || e.fresh(now) {
		return false
	}
	last := e.lastAccess
	if e.loadedAt.After(last) {
		last = e.loadedAt
	}
	return now.Sub(last) > s.retention
}

package loadcache

import "time"

const (
	defaultTTL             = 10 * time.Minute
	defaultRetryBackoff    = 100 * time.Millisecond
	defaultMaxRetryBackoff = 10 * time.Second
	defaultSweep           = time.Minute
	minSweep               = 10 * time.Millisecond
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// sweepEvery picks the scheduler tick. Half the refresh window keeps every
// entry visited at least once inside it.
func sweepEvery(configured, refreshAhead, retention time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	d := defaultSweep
	if refreshAhead > 0 && refreshAhead/2 < d {
		d = refreshAhead / 2
	}
	if retention > 0 && retention/2 < d {
		d = retention / 2
	}
	return max(d, minSweep)
}

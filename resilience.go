package loadcache

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// retryPolicy drives the attempts of a single load.
type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	jitter     float64
}

// delay returns the back-off before retry number attempt (0-indexed):
// base * 2^attempt, capped at max, with ±jitter.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.base) * math.Pow(2, float64(attempt))
	if m := float64(p.max); d > m {
		d = m
	}
	if p.jitter > 0 {
		d += d * p.jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// invoke calls the loader up to maxRetries+1 times. errs is nil on success and
// otherwise holds one error per attempt.
func (s *store[K, V]) invoke(ctx context.Context, key K) (v V, attempts int, errs []error) {
	total := max(s.retry.maxRetries, 0) + 1
	for i := range total {
		attempts = i + 1
		val, err := s.callLoader(ctx, key)
		if err == nil {
			return val, attempts, nil
		}
		errs = append(errs, err)

		if i == total-1 || isPermanent(err) || ctx.Err() != nil {
			break
		}
		s.log.Debug("load attempt failed; retrying", Fields{"cache": s.name, "key": key, "attempt": attempts, "err": err})

		timer := time.NewTimer(s.retry.delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			errs = append(errs, ctx.Err())
			return v, attempts, errs
		case <-timer.C:
		}
	}
	return v, attempts, errs
}

// resiliencePolicy is the only place where a failed load turns into a value.
type resiliencePolicy struct {
	window time.Duration // <= 0 disables stale serving
}

// allows reports whether a value last loaded at loadedAt may still stand in
// for a failed or pending load.
func (p resiliencePolicy) allows(loadedAt, now time.Time) bool {
	return p.window > 0 && now.Sub(loadedAt) < p.window
}

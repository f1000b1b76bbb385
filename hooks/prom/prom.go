// Package promhooks counts loadcache events as Prometheus metrics.
//
//	h, err := promhooks.New(prometheus.DefaultRegisterer, "myapp")
//	users, _ := loadcache.New(loadcache.Options[string, User]{Name: "users", Loader: load, Hooks: h})
//
// Every series is labelled by cache name. Keys are never used as labels.
package promhooks

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/loadcache"
)

type Hooks struct {
	loadFailures *prometheus.CounterVec
	staleServed  *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	cancelled    *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	tierErrors   *prometheus.CounterVec
}

var _ loadcache.Hooks = (*Hooks)(nil)

// New registers the collectors with reg. Registering twice under the same
// namespace returns the already registered collectors.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loadcache",
			Name:      name,
			Help:      help,
		}, append([]string{"cache"}, labels...))
	}
	h := &Hooks{
		loadFailures: counter("load_failures_total", "Loads whose error reached callers."),
		staleServed:  counter("stale_served_total", "Failed loads answered with a previous value."),
		refreshes:    counter("refreshes_total", "Background refreshes started."),
		cancelled:    counter("loads_cancelled_total", "In-flight loads cancelled by teardown."),
		evictions:    counter("evictions_total", "Entries removed by the cache.", "reason"),
		tierErrors:   counter("tier_errors_total", "Provider tier failures.", "op"),
	}
	for _, c := range []**prometheus.CounterVec{
		&h.loadFailures, &h.staleServed, &h.refreshes, &h.cancelled, &h.evictions, &h.tierErrors,
	} {
		if err := reg.Register(*c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			*c = existing
		}
	}
	return h, nil
}

func (h *Hooks) LoadFailed(cache string, _ any, _ int, _ error) {
	h.loadFailures.WithLabelValues(cache).Inc()
}
func (h *Hooks) StaleServed(cache string, _ any, _ error) {
	h.staleServed.WithLabelValues(cache).Inc()
}
func (h *Hooks) RefreshStarted(cache string, _ any) {
	h.refreshes.WithLabelValues(cache).Inc()
}
func (h *Hooks) LoadCancelled(cache string, _ any) {
	h.cancelled.WithLabelValues(cache).Inc()
}
func (h *Hooks) Evicted(cache string, _ any, reason string) {
	h.evictions.WithLabelValues(cache, reason).Inc()
}
func (h *Hooks) TierError(cache, op string, _ error) {
	h.tierErrors.WithLabelValues(cache, op).Inc()
}

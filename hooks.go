package loadcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths, sometimes while holding an entry lock.
type Hooks interface {
	// Every attempt failed and the error reached the callers.
	LoadFailed(cache string, key any, attempts int, err error)

	// A load failed but a previous value inside the resilience window was
	// served instead.
	StaleServed(cache string, key any, err error)

	// A background refresh was started (read-triggered or by the sweep).
	RefreshStarted(cache string, key any)

	// An in-flight load was cancelled by teardown.
	LoadCancelled(cache string, key any)

	// An entry was removed by the cache itself.
	// reason ∈ {"retention"}
	Evicted(cache string, key any, reason string)

	// The provider tier failed; op ∈ {"get", "set", "del", "decode", "encode"}.
	TierError(cache, op string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) LoadFailed(string, any, int, error) {}
func (NopHooks) StaleServed(string, any, error)     {}
func (NopHooks) RefreshStarted(string, any)         {}
func (NopHooks) LoadCancelled(string, any)          {}
func (NopHooks) Evicted(string, any, string)        {}
func (NopHooks) TierError(string, string, error)    {}

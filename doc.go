// Package loadcache implements named, in-process loading caches.
//
// A miss runs the configured Loader once per key no matter how many callers
// arrive concurrently; every caller receives the same outcome. Values carry a
// TTL and can be reloaded in the background before they expire
// (refresh-ahead). When a reload fails, the previous value keeps being served
// for a bounded resilience window while retries back off exponentially.
//
// Components:
//   - Store[K, V]: one named cache with its own per-key state machine.
//   - Registry: named stores, duplicate names rejected.
//   - Provider + Codec[V] (optional): a byte tier (Ristretto, BigCache, Redis)
//     that loaded values are mirrored into and adopted from on a cold miss.
//
// Key lifecycle:
//
//	empty -> loading -> fresh -> (refresh ahead) -> fresh
//	                  \-> failed        \-> stale (served within the window)
//
// Closing a store cancels outstanding loads; waiters observe ErrCancelled and
// every later call returns ErrClosed. Options.DrainOnClose waits for them
// instead.
package loadcache

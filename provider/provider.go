// Package provider defines the byte store that backs the optional loadcache tier.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for that key. The "entry:<cache>:" keyspace
// is owned by loadcache; foreign values under it fail frame validation and
// are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl <= 0 means no expiry where the
	// store supports it. Cost may be ignored. ok=false means the store
	// rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

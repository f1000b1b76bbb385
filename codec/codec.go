// Package codec provides Codec implementations for the loadcache provider tier.
package codec

import "errors"

// ErrTooLarge is returned by Limit when a payload exceeds MaxDecode.
var ErrTooLarge = errors.New("codec: payload too large")

// Codec encodes/decodes values V to []byte for a provider.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

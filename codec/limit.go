package codec

import "fmt"

// Limit wraps another codec and rejects payloads larger than MaxDecode before
// decoding them. Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
//
// A shared provider (Redis) is written by other processes; a corrupt or hostile
// entry should not make a reader allocate without bound.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

var _ Codec[[]byte] = Limit[[]byte]{}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}

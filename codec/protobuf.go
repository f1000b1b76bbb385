package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf is a Codec for generated message types. ctor returns a fresh,
// empty message, e.g. func() *pb.User { return new(pb.User) }.
type Protobuf[T proto.Message] struct {
	ctor func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{ctor: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errors.New("codec: protobuf codec has no constructor")
	}
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}

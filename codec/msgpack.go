package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values with vmihailenco/msgpack for cross-node transport
// and byte-store engines. Compact and fast; a good default when every member
// is this library and no human ever reads the payload. Mind the struct tag
// differences vs JSON — use `msgpack:"fieldName"` tags for explicit control.
// The zero value is ready to use.
type Msgpack[V any] struct{}

var _ Codec[int] = Msgpack[int]{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

package codec

import "encoding/json"

// JSON is the default codec. Slowest of the bunch but needs no setup and
// handles any marshalable V.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

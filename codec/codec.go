package codec

// Codec encodes/decodes values V to []byte for cross-node transport and
// byte-store engines.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

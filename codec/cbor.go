package codec

import "github.com/fxamacker/cbor/v2"

// CBOR serializes values using fxamacker/cbor with its default modes.
// The zero value is ready to use. For byte-for-byte stable output (e.g.
// content addressing) construct a deterministic codec with NewCBORDet.
type CBOR[V any] struct {
	enc cbor.EncMode // nil => cbor.Marshal defaults
}

// NewCBORDet returns a CBOR codec with RFC 8949 Core Deterministic
// encoding and RFC3339Nano time values.
func NewCBORDet[V any]() (CBOR[V], error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	if c.enc != nil {
		return c.enc.Marshal(v)
	}
	return cbor.Marshal(v)
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := cbor.Unmarshal(b, &v)
	return v, err
}

package codec

import "fmt"

// Limit wraps another codec to cap payload sizes. Oversized input is
// rejected before the inner codec runs (Decode) or after it produced the
// bytes (Encode). A non-positive limit disables the corresponding check.
//
// Typical use: protect against oversized entries coming back from a
// shared backing store.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int // max bytes Encode may emit
	MaxDecode int // max bytes Decode accepts
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}

// Package encoding provides the default record codec for logflume. All
// msgpack operations go through this package to ensure consistent behavior.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings are preserved as Go strings (not
// []byte), so structured log events round-trip with readable field values.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// Msgpack is the default cache codec: one msgpack document per record.
type Msgpack[T any] struct{}

func (Msgpack[T]) Marshal(event T) ([]byte, error) {
	return Marshal(event)
}

func (Msgpack[T]) Unmarshal(data []byte) (T, error) {
	var event T
	err := Unmarshal(data, &event)
	return event, err
}

// Package codec declares the encoding interfaces shared by the connection engines,
// the local store and the fake backend, so that all of them agree on one wire format.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is both halves of a wire format.
type Codec interface {
	Marshaler
	Unmarshaler
}

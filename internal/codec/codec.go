// Package codec abstracts the serialization used on the wire, so the entity
// conventions, the transport and the fake server agree on one encoding.
package codec

import "io"

// Encoder writes one value to a stream.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads one value from a stream.
type Decoder interface {
	Decode(v any) error
}

// Marshaler turns documents, batches and query bodies into bytes.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

// Unmarshaler reads server responses and entity bodies.
type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is both halves of one encoding.
type Codec interface {
	Marshaler
	Unmarshaler
}

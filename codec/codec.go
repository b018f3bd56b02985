// Package codec defines the erasure-coding boundary consumed by the chunk
// producer and chunk reconstruction path. Callers depend only on the
// ErasureCodec interface; a concrete, swappable reference implementation
// lives here so the module works without an external codec dependency.
package codec

import "fmt"

// ErasureCodec encodes a byte blob into N = DataParts()+ParityParts() parts
// such that any DataParts() of the N parts suffice to reconstruct it.
type ErasureCodec interface {
	DataParts() int
	ParityParts() int
	// Encode splits and erasure-codes body into exactly DataParts()+ParityParts()
	// parts, each of equal length.
	Encode(body []byte) ([][]byte, error)
	// Reconstruct rebuilds body from parts, a slice of length
	// DataParts()+ParityParts() where missing parts are nil. It requires at
	// least DataParts() non-nil entries.
	Reconstruct(parts [][]byte, bodyLen int) ([]byte, error)
}

// ErrInsufficientParts is returned when fewer than DataParts() parts are
// available for reconstruction.
type ErrInsufficientParts struct {
	Have, Need int
}

func (e ErrInsufficientParts) Error() string {
	return fmt.Sprintf("codec: insufficient parts to reconstruct: have %d need %d", e.Have, e.Need)
}

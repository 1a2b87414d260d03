package format

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

// Scalar is a record element type.
type Scalar interface {
	float64 | int32
}

// Records is a flat scalar sequence viewed as Len() records of Width values.
type Records[T Scalar] struct {
	Data  []T
	Width int
}

// Len is the number of records.
func (r Records[T]) Len() int {
	if r.Width <= 0 {
		return 0
	}
	return len(r.Data) / r.Width
}

// At returns record i, sharing storage with Data.
func (r Records[T]) At(i int) []T {
	return r.Data[i*r.Width : (i+1)*r.Width]
}

var decodeCount atomic.Int64

// DecodeCount is the number of decode calls made by this process.
func DecodeCount() int64 {
	return decodeCount.Load()
}

func kindOf[T Scalar]() Kind {
	var zero T
	switch any(zero).(type) {
	case float64:
		return F64LE
	default:
		return I32LE
	}
}

// Decode splits blob into records according to layout. The scalar type T
// must match layout.Kind.
func Decode[T Scalar](blob []byte, layout Layout) (Records[T], error) {
	decodeCount.Add(1)

	kind := kindOf[T]()
	if layout.Kind != kind {
		return Records[T]{}, errors.WrapInvalid(
			errors.Kind(errors.ErrMalformedBinary, "layout %s is %s, decoding as %s", layout.Name, layout.Kind, kind),
			"format", "Decode", "decode "+layout.Name)
	}
	if layout.Width <= 0 {
		return Records[T]{}, errors.WrapInvalid(
			errors.Kind(errors.ErrMalformedBinary, "record width %d", layout.Width),
			"format", "Decode", "decode "+layout.Name)
	}

	unit := kind.UnitBytes()
	if len(blob)%unit != 0 {
		return Records[T]{}, errors.WrapInvalid(
			errors.Kind(errors.ErrMalformedBinary, "%d bytes is not a multiple of %d", len(blob), unit),
			"format", "Decode", "decode "+layout.Name)
	}
	count := len(blob) / unit
	if count%layout.Width != 0 {
		return Records[T]{}, errors.WrapInvalid(
			errors.Kind(errors.ErrMalformedBinary, "%d values do not split into records of %d", count, layout.Width),
			"format", "Decode", "decode "+layout.Name)
	}

	data := make([]T, count)
	switch out := any(data).(type) {
	case []float64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
		}
	case []int32:
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(blob[i*4:]))
		}
	}
	return Records[T]{Data: data, Width: layout.Width}, nil
}

// DecodeFloat64 decodes little-endian doubles in records of width.
func DecodeFloat64(blob []byte, width int) (Records[float64], error) {
	return Decode[float64](blob, Layout{Name: "f64", Kind: F64LE, Width: width})
}

// DecodeInt32 decodes little-endian signed 32-bit integers in records of width.
func DecodeInt32(blob []byte, width int) (Records[int32], error) {
	return Decode[int32](blob, Layout{Name: "i32", Kind: I32LE, Width: width})
}

// EncodeFloat64 is the inverse of DecodeFloat64.
func EncodeFloat64(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// EncodeInt32 is the inverse of DecodeInt32.
func EncodeInt32(values []int32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

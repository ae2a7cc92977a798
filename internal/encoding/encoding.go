// Package encoding packs fixed-width numeric slices into little-endian byte
// buffers and back. Grid payloads are stored with this layout regardless of
// host byte order: row-major, element after element, no padding.
package encoding

import (
	"encoding/binary"
	"math"
	"unsafe"
)

// Number is the set of element types a grid can hold.
type Number interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// SizeOf returns the encoded width of one T in bytes.
func SizeOf[T Number]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Pack encodes values into a new little-endian buffer of len(values)*SizeOf[T]() bytes.
func Pack[T Number](values []T) []byte {
	size := SizeOf[T]()
	out := make([]byte, len(values)*size)
	switch vs := any(values).(type) {
	case []float32:
		for i, v := range vs {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case []float64:
		for i, v := range vs {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
	case []uint8:
		copy(out, vs)
	default:
		for i, v := range values {
			PutUint(out[i*size:], uint64(v), size)
		}
	}
	return out
}

// Unpack decodes buf into a new []T. len(buf) must be a multiple of
// SizeOf[T](); trailing bytes that do not form a whole element are ignored.
func Unpack[T Number](buf []byte) []T {
	size := SizeOf[T]()
	out := make([]T, len(buf)/size)
	switch vs := any(out).(type) {
	case []float32:
		for i := range vs {
			vs[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	case []float64:
		for i := range vs {
			vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
		}
	case []uint8:
		copy(vs, buf)
	default:
		for i := range out {
			// Integer conversion truncates to the width of T, which also
			// restores the sign of signed element types.
			out[i] = T(Uint(buf[i*size:], size))
		}
	}
	return out
}

// PutUint writes the low size bytes of v to buf in little-endian order.
func PutUint(buf []byte, v uint64, size int) {
	switch size {
	case 1:
		buf[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		for i := range size {
			buf[i] = uint8(v >> (i * 8))
		}
	}
}

// Uint reads a little-endian unsigned integer of size bytes from buf.
func Uint(buf []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	var v uint64
	for i := range size {
		v |= uint64(buf[i]) << (i * 8)
	}
	return v
}

// Float64 reads element i of a little-endian buffer whose elements are
// described by size and kind, widening it to float64. It backs statistics
// that must work across every grid dtype.
func Float64(buf []byte, i, size int, isFloat, isSigned bool) float64 {
	b := buf[i*size:]
	switch {
	case isFloat && size == 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case isFloat:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case isSigned:
		u := Uint(b, size)
		shift := uint(64 - 8*size)
		return float64(int64(u<<shift) >> shift)
	default:
		return float64(Uint(b, size))
	}
}

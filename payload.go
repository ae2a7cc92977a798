package rterrain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	rterrors "github.com/tamirms/rterrain/errors"
	"github.com/tamirms/rterrain/internal/encoding"
)

// Kind identifies one of the three payload encodings.
type Kind uint8

const (
	// KindGrid is a rectangular array of fixed-width numbers.
	KindGrid Kind = iota + 1
	// KindBytes is an opaque byte sequence stored verbatim.
	KindBytes
	// KindRecord is a JSON document.
	KindRecord
)

// String returns the kind name stored in block metadata.
func (k Kind) String() string {
	switch k {
	case KindGrid:
		return "grid"
	case KindBytes:
		return "bytes"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func parseKind(name string) (Kind, error) {
	switch name {
	case "grid":
		return KindGrid, nil
	case "bytes":
		return KindBytes, nil
	case "record":
		return KindRecord, nil
	default:
		return 0, fmt.Errorf("%w: %q", rterrors.ErrUnknownKind, name)
	}
}

// Payload is the content of one block. The set of implementations is
// closed: *Grid, Blob and Record.
type Payload interface {
	Kind() Kind
	isPayload()
}

var (
	_ Payload = (*Grid)(nil)
	_ Payload = Blob(nil)
	_ Payload = Record(nil)
)

// DType is the element type of a grid. Names follow numpy.
type DType uint8

const (
	Int8 DType = iota + 1
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var dtypeNames = [...]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if d == 0 || int(d) >= len(dtypeNames) {
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
	return dtypeNames[d]
}

// ParseDType parses a numpy dtype name.
func ParseDType(name string) (DType, error) {
	for d := Int8; d <= Float64; d++ {
		if dtypeNames[d] == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", rterrors.ErrUnknownDType, name)
}

// Size returns the element width in bytes.
func (d DType) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

func (d DType) isFloat() bool  { return d == Float32 || d == Float64 }
func (d DType) isSigned() bool { return d == Int8 || d == Int16 || d == Int32 || d == Int64 }

// DTypeOf returns the DType matching T.
func DTypeOf[T encoding.Number]() DType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case int64:
		return Int64
	case uint64:
		return Uint64
	case float32:
		return Float32
	default:
		return Float64
	}
}

// Grid is a rectangular numeric array. Data holds the elements in
// row-major order, little-endian, without padding.
type Grid struct {
	DType DType
	Shape []int
	Data  []byte
}

func (*Grid) Kind() Kind { return KindGrid }
func (*Grid) isPayload() {}

// NewGrid packs values into a grid of the given shape. With no shape the
// grid is one-dimensional.
func NewGrid[T encoding.Number](values []T, shape ...int) (*Grid, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	g := &Grid{
		DType: DTypeOf[T](),
		Shape: append([]int(nil), shape...),
		Data:  encoding.Pack(values),
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// GridValues unpacks g into a []T. T must match g.DType.
func GridValues[T encoding.Number](g *Grid) ([]T, error) {
	if want := DTypeOf[T](); g.DType != want {
		return nil, fmt.Errorf("%w: grid is %s, requested %s", rterrors.ErrDTypeMismatch, g.DType, want)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return encoding.Unpack[T](g.Data), nil
}

// Len returns the number of elements described by Shape.
func (g *Grid) Len() int {
	n := 1
	for _, dim := range g.Shape {
		n *= dim
	}
	return n
}

func (g *Grid) validate() error {
	if g.DType.Size() == 0 {
		return fmt.Errorf("%w: %s", rterrors.ErrUnknownDType, g.DType)
	}
	if len(g.Shape) == 0 {
		return fmt.Errorf("%w: grid has no shape", rterrors.ErrShapeMismatch)
	}
	n := 1
	for _, dim := range g.Shape {
		if dim < 0 {
			return fmt.Errorf("%w: negative dimension in %v", rterrors.ErrShapeMismatch, g.Shape)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return fmt.Errorf("%w: shape %v overflows", rterrors.ErrShapeMismatch, g.Shape)
		}
		n *= dim
	}
	if n > math.MaxInt/g.DType.Size() || len(g.Data) != n*g.DType.Size() {
		return fmt.Errorf("%w: %d bytes for %s%v", rterrors.ErrShapeMismatch, len(g.Data), g.DType, g.Shape)
	}
	return nil
}

// At returns element i (row-major) widened to float64.
func (g *Grid) At(i int) float64 {
	return encoding.Float64(g.Data, i, g.DType.Size(), g.DType.isFloat(), g.DType.isSigned())
}

// MinMax returns the smallest and largest element, ignoring NaN. ok is
// false when the grid has no non-NaN element.
func (g *Grid) MinMax() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	n := len(g.Data) / max(g.DType.Size(), 1)
	for i := range n {
		v := g.At(i)
		if math.IsNaN(v) {
			continue
		}
		ok = true
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// Equal reports whether two grids have the same dtype, shape and bytes.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.DType != other.DType || len(g.Shape) != len(other.Shape) {
		return false
	}
	for i := range g.Shape {
		if g.Shape[i] != other.Shape[i] {
			return false
		}
	}
	return bytes.Equal(g.Data, other.Data)
}

// Blob is an opaque byte payload, typically the output of another codec
// such as a JPEG encoder. It is stored verbatim; zero length is valid.
type Blob []byte

func (Blob) Kind() Kind { return KindBytes }
func (Blob) isPayload() {}

// Record is a JSON-encoded structured payload: any value expressible as
// nested objects, arrays, numbers, strings, booleans and null.
type Record []byte

func (Record) Kind() Kind { return KindRecord }
func (Record) isPayload() {}

// NewRecord marshals v into a Record. Map keys are sorted, so equal
// values produce equal bytes.
func NewRecord(v any) (Record, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rterrors.ErrInvalidRecord, err)
	}
	return Record(buf), nil
}

// MustRecord is like NewRecord but panics on error. Intended for literals.
func MustRecord(v any) Record {
	r, err := NewRecord(v)
	if err != nil {
		panic(err)
	}
	return r
}

// Decode unmarshals the record into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r, v); err != nil {
		return fmt.Errorf("%w: %v", rterrors.ErrInvalidRecord, err)
	}
	return nil
}

// Value decodes the record into generic Go values: map[string]any, []any,
// float64, string, bool and nil.
func (r Record) Value() (any, error) {
	var v any
	err := r.Decode(&v)
	return v, err
}

// Map decodes a record whose top level is an object.
func (r Record) Map() (map[string]any, error) {
	var m map[string]any
	err := r.Decode(&m)
	return m, err
}

func (r Record) validate() error {
	if !json.Valid(r) {
		return rterrors.ErrInvalidRecord
	}
	return nil
}

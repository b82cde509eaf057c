package core

import (
	"fmt"
	"strings"
)

// DataType is a primitive element type. The numeric values are the
// persisted encoding and must not be reordered.
type DataType uint32

const (
	U64 DataType = iota
	I64
	U32
	I32
	U16
	I16
	U8
	I8
	F64
	F32
	F16

	// Unknown marks a symbolic argument whose element type is left to the kernel signature.
	Unknown DataType = 0xFF
)

var dtypeNames = [...]string{
	U64: "u64", I64: "i64", U32: "u32", I32: "i32", U16: "u16", I16: "i16",
	U8: "u8", I8: "i8", F64: "f64", F32: "f32", F16: "f16",
}

var dtypeSizes = [...]int{
	U64: 8, I64: 8, U32: 4, I32: 4, U16: 2, I16: 2,
	U8: 1, I8: 1, F64: 8, F32: 4, F16: 2,
}

// Valid reports whether d is one of the concrete primitive types.
func (d DataType) Valid() bool {
	return d <= F16
}

// Size returns the byte size of one element, or 0 for Unknown/invalid types.
func (d DataType) Size() int {
	if !d.Valid() {
		return 0
	}
	return dtypeSizes[d]
}

// IsFloat reports whether d is a floating point type.
func (d DataType) IsFloat() bool {
	return d == F64 || d == F32 || d == F16
}

// IsSigned reports whether d is a signed integer type.
func (d DataType) IsSigned() bool {
	return d == I64 || d == I32 || d == I16 || d == I8
}

func (d DataType) String() string {
	if d == Unknown {
		return "unknown"
	}
	if !d.Valid() {
		return fmt.Sprintf("dtype(%d)", uint32(d))
	}
	return dtypeNames[d]
}

// ParseDataType maps a name such as "i32" or "f16" to its DataType.
// The empty string parses to Unknown.
func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "unknown" {
		return Unknown, nil
	}
	for i, name := range dtypeNames {
		if name == s {
			return DataType(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown data type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// NumElements returns the product of shape, 1 for an empty shape.
func NumElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// ShapeEqual compares two shapes element-wise.
func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

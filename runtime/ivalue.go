package runtime

import (
	"math"

	"github.com/x448/float16"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/model"
)

// NdArray is an externally owned array-like object.
type NdArray interface {
	DType() core.DataType
	Shape() []int
	Allocation() core.DeviceAllocation
	ByteSize() uint64
}

// IValue is a value bound to a symbolic argument for one run. It is one of
// ScalarValue, ArrayRef or DeviceBufferRef and never owns memory.
type IValue interface {
	Kind() model.ArgKind
	isIValue()
}

// ScalarValue is a raw 64-bit payload. DType records the type the payload
// was encoded as; Unknown means the bits are written through untouched.
type ScalarValue struct {
	Bits  uint64
	DType core.DataType
}

// ArrayRef refers to an array-like object.
type ArrayRef struct {
	Array NdArray
}

// DeviceBufferRef refers to a raw device allocation.
type DeviceBufferRef struct {
	Alloc core.DeviceAllocation
	Size  uint64
	Shape []int
}

func (ScalarValue) Kind() model.ArgKind     { return model.Scalar }
func (ArrayRef) Kind() model.ArgKind        { return model.Array }
func (DeviceBufferRef) Kind() model.ArgKind { return model.Array }

func (ScalarValue) isIValue()     {}
func (ArrayRef) isIValue()        {}
func (DeviceBufferRef) isIValue() {}

// Raw wraps bits that are already in the kernel's encoding.
func Raw(bits uint64) IValue { return ScalarValue{Bits: bits, DType: core.Unknown} }

// Int is a signed integer scalar.
func Int(v int64) IValue { return ScalarValue{Bits: uint64(v), DType: core.I64} }

// Uint is an unsigned integer scalar.
func Uint(v uint64) IValue { return ScalarValue{Bits: v, DType: core.U64} }

// F64 is a double precision scalar.
func F64(v float64) IValue { return ScalarValue{Bits: math.Float64bits(v), DType: core.F64} }

// F32 is a single precision scalar.
func F32(v float32) IValue { return ScalarValue{Bits: uint64(math.Float32bits(v)), DType: core.F32} }

// F16 is a half precision scalar, rounded from v.
func F16(v float32) IValue {
	return ScalarValue{Bits: uint64(float16.Fromfloat32(v).Bits()), DType: core.F16}
}

// Array binds an array-like object.
func Array(a NdArray) IValue { return ArrayRef{Array: a} }

// DeviceBuffer binds a raw device allocation of size bytes viewed as shape.
func DeviceBuffer(alloc core.DeviceAllocation, size uint64, shape ...int) IValue {
	return DeviceBufferRef{Alloc: alloc, Size: size, Shape: append([]int(nil), shape...)}
}

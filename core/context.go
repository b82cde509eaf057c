package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DeviceAllocation is an opaque reference to memory owned by a device.
type DeviceAllocation struct {
	Device uint32
	ID     uint64
}

// ArrayHandle is what a launched kernel sees for an array argument.
type ArrayHandle struct {
	Alloc DeviceAllocation
	Bytes uint64
	Shape []int
}

// LaunchContext is the flat buffer a kernel receives: the args region, the
// extra region and a separate rets region, laid out by attrs.
type LaunchContext struct {
	attrs  *KernelContextAttributes
	args   []byte
	rets   []byte
	arrays []*ArrayHandle
}

// NewLaunchContext allocates a zeroed context for attrs.
func NewLaunchContext(attrs *KernelContextAttributes) *LaunchContext {
	return NewLaunchContextIn(attrs, AlignedBytes(attrs.ContextBytes()), AlignedBytes(attrs.RetsBytes))
}

// NewLaunchContextIn builds a context over caller provided buffers, which
// must be at least ContextBytes and RetsBytes long. Both are zeroed.
func NewLaunchContextIn(attrs *KernelContextAttributes, args, rets []byte) *LaunchContext {
	args = args[:attrs.ContextBytes()]
	rets = rets[:attrs.RetsBytes]
	clear(args)
	clear(rets)
	return &LaunchContext{
		attrs:  attrs,
		args:   args,
		rets:   rets,
		arrays: make([]*ArrayHandle, len(attrs.Args)),
	}
}

// Attributes returns the layout the context was built for.
func (c *LaunchContext) Attributes() *KernelContextAttributes { return c.attrs }

// ArgsBuffer returns the args region followed by the extra region.
func (c *LaunchContext) ArgsBuffer() []byte { return c.args }

// RetsBuffer returns the rets region.
func (c *LaunchContext) RetsBuffer() []byte { return c.rets }

func (c *LaunchContext) arg(i int) (ArgAttributes, error) {
	if i < 0 || i >= len(c.attrs.Args) {
		return ArgAttributes{}, fmt.Errorf("arg index %d out of range [0, %d)", i, len(c.attrs.Args))
	}
	return c.attrs.Args[i], nil
}

// SetScalar writes the low bytes of bits into scalar argument i.
func (c *LaunchContext) SetScalar(i int, bits uint64) error {
	aa, err := c.arg(i)
	if err != nil {
		return err
	}
	if aa.IsArray {
		return fmt.Errorf("arg %d is an array", i)
	}
	putBits(c.args[aa.Offset:aa.Offset+aa.DType.Size()], bits)
	return nil
}

// SetArray stores h as array argument i: the allocation id goes into the
// pointer slot and the shape extents into the extra region.
func (c *LaunchContext) SetArray(i int, h ArrayHandle) error {
	aa, err := c.arg(i)
	if err != nil {
		return err
	}
	if !aa.IsArray {
		return fmt.Errorf("arg %d is a scalar", i)
	}
	if len(h.Shape) > MaxNumIndices {
		return fmt.Errorf("arg %d: %d dimensions exceed the limit of %d", i, len(h.Shape), MaxNumIndices)
	}
	binary.LittleEndian.PutUint64(c.args[aa.Offset:], h.Alloc.ID)
	for d, extent := range h.Shape {
		binary.LittleEndian.PutUint32(c.args[c.extraOffset(i, d):], uint32(int32(extent)))
	}
	h.Shape = append([]int(nil), h.Shape...)
	c.arrays[i] = &h
	return nil
}

func (c *LaunchContext) extraOffset(i, d int) int {
	return c.attrs.ArgsBytes + 4*(i*MaxNumIndices+d)
}

// Scalar reads scalar argument i as raw bits, zero extended.
func (c *LaunchContext) Scalar(i int) (uint64, error) {
	aa, err := c.arg(i)
	if err != nil {
		return 0, err
	}
	if aa.IsArray {
		return 0, fmt.Errorf("arg %d is an array", i)
	}
	return getBits(c.args[aa.Offset : aa.Offset+aa.DType.Size()]), nil
}

// Int reads scalar argument i as a signed or unsigned integer.
func (c *LaunchContext) Int(i int) (int64, error) {
	bits, err := c.Scalar(i)
	if err != nil {
		return 0, err
	}
	return BitsToInt(c.attrs.Args[i].DType, bits), nil
}

// Float reads scalar argument i as a floating point value.
func (c *LaunchContext) Float(i int) (float64, error) {
	bits, err := c.Scalar(i)
	if err != nil {
		return 0, err
	}
	return BitsToFloat(c.attrs.Args[i].DType, bits), nil
}

// Array returns the handle bound to array argument i.
func (c *LaunchContext) Array(i int) (ArrayHandle, error) {
	if _, err := c.arg(i); err != nil {
		return ArrayHandle{}, err
	}
	h := c.arrays[i]
	if h == nil {
		return ArrayHandle{}, fmt.Errorf("arg %d has no array bound", i)
	}
	return *h, nil
}

// Extent reads dimension d of array argument i from the extra region.
func (c *LaunchContext) Extent(i, d int) int {
	return int(int32(binary.LittleEndian.Uint32(c.args[c.extraOffset(i, d):])))
}

// SetRet writes the low bytes of bits into scalar return i.
func (c *LaunchContext) SetRet(i int, bits uint64) error {
	if i < 0 || i >= len(c.attrs.Rets) {
		return fmt.Errorf("ret index %d out of range [0, %d)", i, len(c.attrs.Rets))
	}
	ra := c.attrs.Rets[i]
	if ra.IsArray {
		return fmt.Errorf("ret %d is an array", i)
	}
	putBits(c.rets[ra.Offset:ra.Offset+ra.DType.Size()], bits)
	return nil
}

// Ret returns the bytes of return value i.
func (c *LaunchContext) Ret(i int) ([]byte, error) {
	if i < 0 || i >= len(c.attrs.Rets) {
		return nil, fmt.Errorf("ret index %d out of range [0, %d)", i, len(c.attrs.Rets))
	}
	ra := c.attrs.Rets[i]
	return c.rets[ra.Offset : ra.Offset+ra.Stride], nil
}

// RetBits reads scalar return i as raw bits.
func (c *LaunchContext) RetBits(i int) (uint64, error) {
	b, err := c.Ret(i)
	if err != nil {
		return 0, err
	}
	return getBits(b), nil
}

func putBits(dst []byte, bits uint64) {
	for i := range dst {
		dst[i] = byte(bits >> (8 * i))
	}
}

func getBits(src []byte) uint64 {
	var bits uint64
	for i, b := range src {
		bits |= uint64(b) << (8 * i)
	}
	return bits
}

// BitsToInt interprets the low Size() bytes of bits as an integer of type dt.
func BitsToInt(dt DataType, bits uint64) int64 {
	switch dt {
	case I8:
		return int64(int8(bits))
	case I16:
		return int64(int16(bits))
	case I32:
		return int64(int32(bits))
	case U8:
		return int64(uint8(bits))
	case U16:
		return int64(uint16(bits))
	case U32:
		return int64(uint32(bits))
	case F16, F32, F64:
		return int64(BitsToFloat(dt, bits))
	default:
		return int64(bits)
	}
}

// BitsToFloat interprets the low Size() bytes of bits as a value of type dt.
func BitsToFloat(dt DataType, bits uint64) float64 {
	switch dt {
	case F64:
		return math.Float64frombits(bits)
	case F32:
		return float64(math.Float32frombits(uint32(bits)))
	case F16:
		return float64(float16.Frombits(uint16(bits)).Float32())
	case U64:
		return float64(bits)
	default:
		return float64(BitsToInt(dt, bits))
	}
}

// FloatToBits encodes f as a value of type dt.
func FloatToBits(dt DataType, f float64) uint64 {
	switch dt {
	case F64:
		return math.Float64bits(f)
	case F32:
		return uint64(math.Float32bits(float32(f)))
	case F16:
		return uint64(float16.Fromfloat32(float32(f)).Bits())
	case U64, U32, U16, U8:
		return uint64(f)
	default:
		return uint64(int64(f))
	}
}

// ConvertBits converts a value of type from into type to. Unknown on
// either side passes the bits through untouched.
func ConvertBits(from DataType, bits uint64, to DataType) uint64 {
	if from == to || !from.Valid() || !to.Valid() {
		return bits
	}
	if from.IsFloat() || to.IsFloat() {
		return FloatToBits(to, BitsToFloat(from, bits))
	}
	if from == U64 {
		return bits
	}
	return uint64(BitsToInt(from, bits))
}

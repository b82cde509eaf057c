package kernels

import (
	"fmt"
	"unsafe"

	"github.com/sbl8/aotgraph/core"
)

// Frame is what a host op sees during one launch: the packed context and
// the device the array arguments live on.
type Frame struct {
	ctx *core.LaunchContext
	dev *Device
}

// NewFrame binds a launch context to dev.
func NewFrame(ctx *core.LaunchContext, dev *Device) *Frame {
	return &Frame{ctx: ctx, dev: dev}
}

// Context returns the launch context.
func (f *Frame) Context() *core.LaunchContext { return f.ctx }

// Array resolves array argument i to a view over device memory. The view
// shape is read back from the context's extra region.
func (f *Frame) Array(i int) (View, error) {
	h, err := f.ctx.Array(i)
	if err != nil {
		return View{}, err
	}
	data, err := f.dev.Bytes(h.Alloc)
	if err != nil {
		return View{}, err
	}
	dt := f.ctx.Attributes().Args[i].DType
	shape := make([]int, len(h.Shape))
	for d := range shape {
		shape[d] = f.ctx.Extent(i, d)
	}
	n := core.NumElements(shape) * dt.Size()
	if n > len(data) {
		return View{}, fmt.Errorf("arg %d: shape %v needs %d bytes, allocation has %d", i, shape, n, len(data))
	}
	return View{DType: dt, Shape: shape, Data: data[:n]}, nil
}

// Float32s views array argument i as []float32 without copying.
func (f *Frame) Float32s(i int) ([]float32, error) {
	v, err := f.Array(i)
	if err != nil {
		return nil, err
	}
	if v.DType != core.F32 {
		return nil, fmt.Errorf("arg %d is %s, not f32", i, v.DType)
	}
	if len(v.Data) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&v.Data[0])), len(v.Data)/4), nil
}

// Int reads scalar argument i.
func (f *Frame) Int(i int) (int64, error) { return f.ctx.Int(i) }

// Float reads scalar argument i.
func (f *Frame) Float(i int) (float64, error) { return f.ctx.Float(i) }

// SetFloatRet writes return value i, converted to its declared type.
func (f *Frame) SetFloatRet(i int, v float64) error {
	rets := f.ctx.Attributes().Rets
	if i < 0 || i >= len(rets) {
		return fmt.Errorf("ret index %d out of range [0, %d)", i, len(rets))
	}
	return f.ctx.SetRet(i, core.FloatToBits(rets[i].DType, v))
}

package kernels

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sbl8/aotgraph/core"
)

// Device is host memory standing in for a compute device. Allocations are
// cache-line aligned and addressed by core.DeviceAllocation.
type Device struct {
	id     uint32
	mu     sync.RWMutex
	next   uint64
	allocs map[uint64][]byte
}

// NewDevice creates an empty host device.
func NewDevice(id uint32) *Device {
	return &Device{id: id, allocs: make(map[uint64][]byte)}
}

// Allocate reserves size zeroed bytes.
func (d *Device) Allocate(size int) core.DeviceAllocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	buf := core.AlignedBytes(size)
	if buf == nil {
		buf = []byte{}
	}
	d.allocs[d.next] = buf
	return core.DeviceAllocation{Device: d.id, ID: d.next}
}

// Bytes returns the memory behind alloc.
func (d *Device) Bytes(alloc core.DeviceAllocation) ([]byte, error) {
	if alloc.Device != d.id {
		return nil, fmt.Errorf("allocation %d belongs to device %d, not %d", alloc.ID, alloc.Device, d.id)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	buf, ok := d.allocs[alloc.ID]
	if !ok {
		return nil, fmt.Errorf("device %d: unknown allocation %d", d.id, alloc.ID)
	}
	return buf, nil
}

// Free releases alloc. Freeing twice is a no-op.
func (d *Device) Free(alloc core.DeviceAllocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.allocs, alloc.ID)
}

// Ndarray is a dense array in device memory.
type Ndarray struct {
	dev   *Device
	dtype core.DataType
	shape []int
	alloc core.DeviceAllocation
	data  []byte
}

// NewNdarray allocates a zeroed array of dt elements.
func NewNdarray(dev *Device, dt core.DataType, shape ...int) (*Ndarray, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("invalid element type %s", dt)
	}
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("invalid shape %v", shape)
		}
	}
	alloc := dev.Allocate(core.NumElements(shape) * dt.Size())
	data, err := dev.Bytes(alloc)
	if err != nil {
		return nil, err
	}
	return &Ndarray{dev: dev, dtype: dt, shape: append([]int(nil), shape...), alloc: alloc, data: data}, nil
}

func (a *Ndarray) DType() core.DataType              { return a.dtype }
func (a *Ndarray) Shape() []int                      { return a.shape }
func (a *Ndarray) Allocation() core.DeviceAllocation { return a.alloc }
func (a *Ndarray) ByteSize() uint64                  { return uint64(len(a.data)) }

// Len returns the element count.
func (a *Ndarray) Len() int { return len(a.data) / a.dtype.Size() }

// Bytes returns the raw element storage.
func (a *Ndarray) Bytes() []byte { return a.data }

// View returns an element view over the array.
func (a *Ndarray) View() View {
	return View{DType: a.dtype, Shape: a.shape, Data: a.data}
}

// Release frees the device memory. The array must not be used afterwards.
func (a *Ndarray) Release() {
	a.dev.Free(a.alloc)
	a.data = nil
}

// View is a typed window over device bytes.
type View struct {
	DType core.DataType
	Shape []int
	Data  []byte
}

// Len returns the element count.
func (v View) Len() int { return len(v.Data) / v.DType.Size() }

// Bits reads element i as raw bits.
func (v View) Bits(i int) uint64 {
	n := v.DType.Size()
	return loadBits(v.Data[i*n : (i+1)*n])
}

// SetBits writes the low bytes of bits into element i.
func (v View) SetBits(i int, bits uint64) {
	n := v.DType.Size()
	storeBits(v.Data[i*n:(i+1)*n], bits)
}

func (v View) Int(i int) int64           { return core.BitsToInt(v.DType, v.Bits(i)) }
func (v View) Float(i int) float64       { return core.BitsToFloat(v.DType, v.Bits(i)) }
func (v View) SetInt(i int, x int64)     { v.SetBits(i, core.ConvertBits(core.I64, uint64(x), v.DType)) }
func (v View) SetFloat(i int, f float64) { v.SetBits(i, core.FloatToBits(v.DType, f)) }

// Ints reads every element as an integer.
func (v View) Ints() []int64 {
	out := make([]int64, v.Len())
	for i := range out {
		out[i] = v.Int(i)
	}
	return out
}

// Floats reads every element as a float.
func (v View) Floats() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.Float(i)
	}
	return out
}

func loadBits(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func storeBits(b []byte, bits uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(bits)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(bits))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(bits))
	default:
		binary.LittleEndian.PutUint64(b, bits)
	}
}

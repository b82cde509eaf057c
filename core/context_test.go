package core

import (
	"encoding/binary"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func testAttrs(t *testing.T) *KernelContextAttributes {
	t.Helper()
	attrs, err := ComputeLayout(Signature{
		Args: []ArgDecl{
			{Name: "arr", DType: I32, IsArray: true},
			{Name: "x", DType: I32},
			{Name: "h", DType: F16},
			{Name: "d", DType: F64},
		},
		Rets: []RetDecl{{DType: F32}, {DType: I32, IsArray: true, ElementShape: []int{4}}},
	})
	require.NoError(t, err)
	return attrs
}

func TestLaunchContextScalars(t *testing.T) {
	t.Parallel()
	ctx := NewLaunchContext(testAttrs(t))

	neg := int64(-5)
	require.NoError(t, ctx.SetScalar(1, uint64(neg)))
	require.NoError(t, ctx.SetScalar(2, uint64(float16.Fromfloat32(1.5).Bits())))
	require.NoError(t, ctx.SetScalar(3, math.Float64bits(2.25)))

	x, err := ctx.Int(1)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), x)

	h, err := ctx.Float(2)
	require.NoError(t, err)
	assert.Equal(t, 1.5, h)

	d, err := ctx.Float(3)
	require.NoError(t, err)
	assert.Equal(t, 2.25, d)

	// the i32 slot holds exactly four bytes
	buf := ctx.ArgsBuffer()
	assert.Equal(t, uint32(0xFFFFFFFB), binary.LittleEndian.Uint32(buf[8:12]))

	assert.Error(t, ctx.SetScalar(0, 1), "array slot")
	assert.Error(t, ctx.SetScalar(9, 1), "out of range")
}

func TestLaunchContextArrays(t *testing.T) {
	t.Parallel()
	attrs := testAttrs(t)
	ctx := NewLaunchContext(attrs)
	assert.Len(t, ctx.ArgsBuffer(), attrs.ArgsBytes+ExtraRegionBytes)

	_, err := ctx.Array(0)
	assert.Error(t, err)

	h := ArrayHandle{Alloc: DeviceAllocation{ID: 42}, Bytes: 40, Shape: []int{10}}
	require.NoError(t, ctx.SetArray(0, h))
	got, err := ctx.Array(0)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(ctx.ArgsBuffer()[0:8]))
	assert.Equal(t, 10, ctx.Extent(0, 0))

	assert.Error(t, ctx.SetArray(1, h), "scalar slot")
}

func TestLaunchContextRets(t *testing.T) {
	t.Parallel()
	ctx := NewLaunchContext(testAttrs(t))
	require.NoError(t, ctx.SetRet(0, uint64(math.Float32bits(0.25))))

	bits, err := ctx.RetBits(0)
	require.NoError(t, err)
	assert.Equal(t, 0.25, BitsToFloat(F32, bits))

	arr, err := ctx.Ret(1)
	require.NoError(t, err)
	assert.Len(t, arr, 16)
	assert.Error(t, ctx.SetRet(1, 0))
}

func TestAlignedBytes(t *testing.T) {
	t.Parallel()
	for _, size := range []int{1, 7, 64, 100, 4096} {
		b := AlignedBytes(size)
		assert.Len(t, b, size)
		assert.True(t, IsAligned(uintptr(unsafe.Pointer(&b[0]))))
	}
	assert.Nil(t, AlignedBytes(0))
}

func TestAlignUp(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, AlignUp(0, 8))
	assert.Equal(t, 8, AlignUp(1, 8))
	assert.Equal(t, 12, AlignUp(12, 12))
	assert.Equal(t, 24, AlignUp(13, 12))
	assert.Equal(t, 5, AlignUp(5, 1))
	assert.Equal(t, 64, AlignCacheLine(33))
}

func TestParseDataType(t *testing.T) {
	t.Parallel()
	for _, dt := range []DataType{U64, I64, U32, I32, U16, I16, U8, I8, F64, F32, F16} {
		got, err := ParseDataType(dt.String())
		require.NoError(t, err)
		assert.Equal(t, dt, got)
	}
	got, err := ParseDataType("")
	require.NoError(t, err)
	assert.Equal(t, Unknown, got)
	_, err = ParseDataType("bf16")
	assert.Error(t, err)
}

package kernels_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/model"
	"github.com/sbl8/aotgraph/runtime"
)

func i32Array(name string) core.ArgDecl { return core.ArgDecl{Name: name, DType: core.I32, IsArray: true} }

// referenceOps are the two kernels of the end-to-end scenario:
// k1 sets arr[1] = 1 and arr[2] += arr[0]; k2 sets arr[1] = x.
func referenceOps(t *testing.T) *kernels.Catalog {
	t.Helper()
	cat := kernels.NewCatalog()
	require.NoError(t, cat.Register(kernels.Op{
		Name:      "k1",
		Signature: core.Signature{Args: []core.ArgDecl{i32Array("arr")}},
		Fn: func(f *kernels.Frame) error {
			arr, err := f.Array(0)
			if err != nil {
				return err
			}
			arr.SetInt(1, 1)
			arr.SetInt(2, arr.Int(2)+arr.Int(0))
			return nil
		},
	}))
	require.NoError(t, cat.Register(kernels.Op{
		Name:      "k2",
		Signature: core.Signature{Args: []core.ArgDecl{i32Array("arr"), {Name: "x", DType: core.I32}}},
		Fn: func(f *kernels.Frame) error {
			arr, err := f.Array(0)
			if err != nil {
				return err
			}
			x, err := f.Int(1)
			if err != nil {
				return err
			}
			arr.SetInt(1, x)
			return nil
		},
	}))
	return cat
}

func TestEndToEndOnHostDevice(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(0)
	be := kernels.NewBackend(dev, referenceOps(t))
	k1, err := be.Kernel("k1", "k1")
	require.NoError(t, err)
	k2, err := be.Kernel("k2", "k2")
	require.NoError(t, err)

	g := graph.New("test", nil)
	arrArg := model.ArrayArg("arr", core.I32, 8)
	seq := g.Seq()
	_, err = seq.Emplace(k1, arrArg)
	require.NoError(t, err)
	_, err = seq.Emplace(k2, arrArg, model.ScalarArg("x", core.I32))
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	arr, err := kernels.NewNdarray(dev, core.I32, 8)
	require.NoError(t, err)
	arr.View().SetInt(0, 2)
	arr.View().SetInt(2, 40)

	require.NoError(t, g.Run(map[string]runtime.IValue{"arr": runtime.Array(arr), "x": runtime.Int(2)}))
	assert.Equal(t, []int64{2, 2, 42, 0, 0, 0, 0, 0}, arr.View().Ints())
}

func TestMissingArgumentLaunchesNothing(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(0)
	be := kernels.NewBackend(dev, referenceOps(t))
	k2, err := be.Kernel("k2", "k2")
	require.NoError(t, err)

	g := graph.New("missing", nil)
	_, err = g.Emplace(k2, model.ArrayArg("arr", core.I32, 4), model.ScalarArg("x", core.I32))
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	arr, err := kernels.NewNdarray(dev, core.I32, 4)
	require.NoError(t, err)
	arr.View().SetInt(1, 7)
	err = g.Run(map[string]runtime.IValue{"arr": runtime.Array(arr)})
	assert.ErrorIs(t, err, core.ErrMissingArgument)
	assert.Equal(t, int64(7), arr.View().Int(1))
	assert.Zero(t, g.Stats().Launches)
}

func TestBuiltinOpsThroughGraph(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(3)
	be := kernels.NewBackend(dev, nil)
	kernel := func(op string) model.Kernel {
		k, err := be.Kernel("", op)
		require.NoError(t, err)
		return k
	}

	var total float64
	g := graph.New("pipeline", &graph.Options{Hook: func(_ int, d *model.CompiledDispatch, ctx *core.LaunchContext) {
		if d.KernelName == "sum" {
			bits, err := ctx.RetBits(0)
			require.NoError(t, err)
			total = core.BitsToFloat(core.F32, bits)
		}
	}})
	x := model.ArrayArg("x", core.F32, 4)
	_, err := g.Emplace(kernel("sqr_plus_x"), x)
	require.NoError(t, err)
	_, err = g.Emplace(kernel("scale"), x, model.ScalarArg("factor", core.F32))
	require.NoError(t, err)
	_, err = g.Emplace(kernel("add_scalar"), x, model.Named("bias"))
	require.NoError(t, err)
	_, err = g.Emplace(kernel("sum"), x)
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	arr, err := kernels.NewNdarray(dev, core.F32, 4)
	require.NoError(t, err)
	for i, v := range []float64{1, 2, 3, 4} {
		arr.View().SetFloat(i, v)
	}
	require.NoError(t, g.Run(map[string]runtime.IValue{
		"x":      runtime.Array(arr),
		"factor": runtime.F64(0.5),
		"bias":   runtime.Int(1),
	}))
	// (x*x + x) * 0.5 + 1
	assert.Equal(t, []float64{2, 4, 7, 11}, arr.View().Floats())
	assert.Equal(t, 24.0, total)
}

func TestMatMulUsesExtents(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(0)
	be := kernels.NewBackend(dev, nil)
	mm, err := be.Kernel("mm", "matmul")
	require.NoError(t, err)

	g := graph.New("mm", nil)
	_, err = g.Emplace(mm,
		model.ArrayArg("a", core.F32, 2, 3),
		model.ArrayArg("b", core.F32, 3, 2),
		model.ArrayArg("out", core.F32, 2, 2))
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	a, _ := kernels.NewNdarray(dev, core.F32, 2, 3)
	b, _ := kernels.NewNdarray(dev, core.F32, 3, 2)
	out, _ := kernels.NewNdarray(dev, core.F32, 2, 2)
	for i, v := range []float64{1, 2, 3, 4, 5, 6} {
		a.View().SetFloat(i, v)
		b.View().SetFloat(i, v)
	}
	require.NoError(t, g.Run(map[string]runtime.IValue{
		"a": runtime.Array(a), "b": runtime.Array(b), "out": runtime.Array(out),
	}))
	assert.Equal(t, []float64{22, 28, 49, 64}, out.View().Floats())
}

func TestDeviceBufferArgument(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(0)
	be := kernels.NewBackend(dev, nil)
	fill, err := be.Kernel("fill", "fill")
	require.NoError(t, err)

	g := graph.New("fill", nil)
	_, err = g.Emplace(fill, model.ArrayArg("buf", core.I32, 2, 2), model.Named("v"))
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	alloc := dev.Allocate(16)
	require.NoError(t, g.Run(map[string]runtime.IValue{
		"buf": runtime.DeviceBuffer(alloc, 16, 2, 2),
		"v":   runtime.Int(-3),
	}))
	data, err := dev.Bytes(alloc)
	require.NoError(t, err)
	v := kernels.View{DType: core.I32, Data: data}
	assert.Equal(t, []int64{-3, -3, -3, -3}, v.Ints())

	err = g.Run(map[string]runtime.IValue{"buf": runtime.DeviceBuffer(alloc, 16, 4), "v": runtime.Int(0)})
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestKernelCodec(t *testing.T) {
	t.Parallel()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	k, err := be.Kernel("double", "scale")
	require.NoError(t, err)
	compiled, err := k.CompileToAOT()
	require.NoError(t, err)

	artifact, err := be.EncodeKernel(compiled)
	require.NoError(t, err)
	decoded, err := be.DecodeKernel("double", k.Signature(), compiled.Attributes(), artifact)
	require.NoError(t, err)
	assert.True(t, decoded.Attributes().Equal(compiled.Attributes()))

	_, err = be.DecodeKernel("double", k.Signature(), compiled.Attributes(), []byte("spirv:scale"))
	assert.Error(t, err)
	_, err = be.DecodeKernel("double", k.Signature(), compiled.Attributes(), []byte("host:nope"))
	assert.ErrorIs(t, err, core.ErrDeclaration)

	other, _ := be.Kernel("s", "sum")
	_, err = be.DecodeKernel("double", other.Signature(), compiled.Attributes(), artifact)
	assert.ErrorIs(t, err, core.ErrLayoutInconsistency)
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	cat := kernels.DefaultCatalog()
	assert.Contains(t, cat.Names(), "softmax")
	_, ok := cat.Lookup("relu")
	assert.True(t, ok)

	err := cat.Register(kernels.Op{Name: "relu", Fn: func(*kernels.Frame) error { return nil }})
	assert.ErrorIs(t, err, core.ErrDeclaration)
	err = cat.Register(kernels.Op{
		Name:      "bad",
		Signature: core.Signature{Args: []core.ArgDecl{{Name: "x", DType: core.Unknown}}},
		Fn:        func(*kernels.Frame) error { return nil },
	})
	assert.ErrorIs(t, err, core.ErrDeclaration)

	_, err = kernels.NewBackend(kernels.NewDevice(0), cat).Kernel("k", "missing")
	assert.ErrorIs(t, err, core.ErrDeclaration)
}

func TestDevice(t *testing.T) {
	t.Parallel()
	dev := kernels.NewDevice(1)
	arr, err := kernels.NewNdarray(dev, core.F16, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), arr.ByteSize())
	arr.View().SetFloat(0, 1.5)
	assert.Equal(t, 1.5, arr.View().Float(0))

	_, err = dev.Bytes(core.DeviceAllocation{Device: 2, ID: arr.Allocation().ID})
	assert.Error(t, err)
	arr.Release()
	_, err = dev.Bytes(arr.Allocation())
	assert.Error(t, err)

	_, err = kernels.NewNdarray(dev, core.I32, 0)
	assert.Error(t, err)
}

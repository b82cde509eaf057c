package aot_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/aotgraph/aot"
	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/model"
	"github.com/sbl8/aotgraph/runtime"
)

// buildModule compiles a two-graph module on be and dumps it into store.
func buildModule(t *testing.T, be *kernels.Backend, store aot.Store) *graph.Module {
	t.Helper()
	kernel := func(op string) model.Kernel {
		k, err := be.Kernel(op, op)
		require.NoError(t, err)
		return k
	}

	m := graph.NewModule(nil)
	g, err := m.NewGraph("pipeline")
	require.NoError(t, err)
	x := model.ArrayArg("x", core.F32, 4)
	_, err = g.Emplace(kernel("sqr_plus_x"), x)
	require.NoError(t, err)
	inner, err := g.CreateSequential()
	require.NoError(t, err)
	_, err = inner.Emplace(kernel("scale"), x, model.ScalarArg("factor", core.F32))
	require.NoError(t, err)
	_, err = inner.Emplace(kernel("sum"), x)
	require.NoError(t, err)
	require.NoError(t, g.Append(inner.ID()))

	h, err := m.NewGraph("activate")
	require.NoError(t, err)
	_, err = h.Emplace(kernel("relu"), model.ArrayArg("y", core.F32, 2, 2))
	require.NoError(t, err)
	require.NoError(t, m.CompileAll())

	b := aot.NewBuilder("demo", be, nil)
	require.NoError(t, b.AddModule(m))
	require.NoError(t, b.AddField("weights", aot.FieldDecl{DType: core.F32, Rows: 2, Cols: 2, Shape: []int{2, 2}}))
	require.NoError(t, b.Dump(context.Background(), store))
	return m
}

func TestModuleRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dev := kernels.NewDevice(0)
	be := kernels.NewBackend(dev, nil)
	store := aot.NewMemStore()
	src := buildModule(t, be, store)

	loaded, err := aot.Load(ctx, store, be, nil)
	require.NoError(t, err)
	assert.Equal(t, "demo", loaded.Name())
	assert.Equal(t, []string{"activate", "pipeline"}, loaded.GraphNames())
	assert.Equal(t, []string{"relu", "scale", "sqr_plus_x", "sum"}, loaded.KernelNames())

	field, ok := loaded.Field("weights")
	require.True(t, ok)
	assert.Equal(t, 2, field.Rows)

	orig, _ := src.Graph("pipeline")
	g, err := loaded.Graph("pipeline", nil)
	require.NoError(t, err)
	want, got := orig.Compiled(), g.Compiled()
	require.Equal(t, want.Len(), got.Len())
	for i := range want.Dispatches {
		assert.Equal(t, want.Dispatches[i].KernelName, got.Dispatches[i].KernelName)
		assert.Equal(t, want.Dispatches[i].SymbolicArgs, got.Dispatches[i].SymbolicArgs)

		a, err := core.EncodeAttributes(want.Dispatches[i].Kernel.Attributes())
		require.NoError(t, err)
		b, err := core.EncodeAttributes(got.Dispatches[i].Kernel.Attributes())
		require.NoError(t, err)
		assert.Equal(t, a, b, "dispatch %d attributes must be byte identical", i)
	}

	listing, err := store.Get(ctx, "graph_pipeline.txt")
	require.NoError(t, err)
	assert.Equal(t, "sqr_plus_x(x)\nscale(x, factor)\nsum(x)\n", string(listing))

	arr, err := kernels.NewNdarray(dev, core.F32, 4)
	require.NoError(t, err)
	for i := range 4 {
		arr.View().SetFloat(i, float64(i+1))
	}
	require.NoError(t, g.Run(map[string]runtime.IValue{"x": runtime.Array(arr), "factor": runtime.F32(2)}))
	assert.Equal(t, []float64{4, 12, 24, 40}, arr.View().Floats())

	_, err = loaded.Graph("missing", nil)
	assert.ErrorIs(t, err, core.ErrDeclaration)
}

func TestLoadDetectsTamperedAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	store := aot.NewMemStore()
	buildModule(t, be, store)

	// A consistent, well-formed encoding of a layout that disagrees with
	// the persisted signature of "scale".
	other, err := core.ComputeLayout(core.Signature{Args: []core.ArgDecl{
		{Name: "x", DType: core.F32, IsArray: true}, {Name: "factor", DType: core.F64},
	}})
	require.NoError(t, err)
	data, err := core.EncodeAttributes(other)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "kernels/scale.attrs", data))

	_, err = aot.Load(ctx, store, be, &aot.Options{Workers: 2})
	assert.ErrorIs(t, err, core.ErrLayoutInconsistency)
}

func TestLoadRejectsCorruptAttributes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	store := aot.NewMemStore()
	buildModule(t, be, store)

	data, err := store.Get(ctx, "kernels/relu.attrs")
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, store.Put(ctx, "kernels/relu.attrs", data))

	_, err = aot.Load(ctx, store, be, nil)
	assert.Error(t, err)
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	t.Parallel()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	b := aot.NewBuilder("dups", be, nil)
	k, err := be.Kernel("relu", "relu")
	require.NoError(t, err)

	require.NoError(t, b.AddKernel("relu", k))
	assert.ErrorIs(t, b.AddKernel("relu", k), core.ErrDeclaration)

	plan := &model.CompiledGraph{}
	require.NoError(t, b.AddGraph("g", plan))
	err = b.AddGraph("g", plan)
	require.ErrorIs(t, err, core.ErrDeclaration)
	assert.Contains(t, err.Error(), "Graph g already exists")

	require.NoError(t, b.AddField("f", aot.FieldDecl{DType: core.I32, IsScalar: true}))
	assert.ErrorIs(t, b.AddField("f", aot.FieldDecl{DType: core.I32}), core.ErrDeclaration)
	assert.ErrorIs(t, b.AddField("bad", aot.FieldDecl{DType: core.Unknown}), core.ErrDeclaration)
}

func TestBuilderRejectsDifferentKernelsUnderOneName(t *testing.T) {
	t.Parallel()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	relu, err := be.Kernel("act", "relu")
	require.NoError(t, err)
	sigmoid, err := be.Kernel("act", "sigmoid")
	require.NoError(t, err)

	m := graph.NewModule(nil)
	a, err := m.NewGraph("a")
	require.NoError(t, err)
	_, err = a.Emplace(relu, model.ArrayArg("x", core.F32, 2))
	require.NoError(t, err)
	bg, err := m.NewGraph("b")
	require.NoError(t, err)
	_, err = bg.Emplace(sigmoid, model.ArrayArg("x", core.F32, 2))
	require.NoError(t, err)
	require.NoError(t, m.CompileAll())

	b := aot.NewBuilder("clash", be, nil)
	err = b.AddModule(m)
	require.ErrorIs(t, err, core.ErrDeclaration)
	assert.Contains(t, err.Error(), "act")

	// the same clash is caught when plans are added by hand
	b = aot.NewBuilder("clash", be, nil)
	require.NoError(t, b.AddKernel("act", relu))
	require.NoError(t, b.AddGraph("a", a.Compiled()))
	assert.ErrorIs(t, b.AddGraph("b", bg.Compiled()), core.ErrDeclaration)

	// and at Dump when the kernel is added after the graph
	b = aot.NewBuilder("clash", be, nil)
	require.NoError(t, b.AddGraph("b", bg.Compiled()))
	require.NoError(t, b.AddKernel("act", relu))
	assert.ErrorIs(t, b.Dump(context.Background(), aot.NewMemStore()), core.ErrDeclaration)
}

func TestKernelTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	scale, err := be.Kernel("set", "scale")
	require.NoError(t, err)
	fill, err := be.Kernel("set", "fill")
	require.NoError(t, err)

	b := aot.NewBuilder("tmpl", be, nil)
	require.NoError(t, b.AddKernelTemplate("set", "f32", scale))
	require.NoError(t, b.AddKernelTemplate("set", "i32", fill))
	assert.ErrorIs(t, b.AddKernelTemplate("set", "i32", fill), core.ErrDeclaration)
	for _, key := range []string{"", "..", "a/b"} {
		assert.ErrorIs(t, b.AddKernelTemplate("set", key, fill), core.ErrDeclaration, "key %q", key)
	}
	// templates and kernels have separate namespaces
	require.NoError(t, b.AddKernel("set", scale))

	store := aot.NewMemStore()
	require.NoError(t, b.Dump(ctx, store))
	loaded, err := aot.Load(ctx, store, be, &aot.Options{Workers: 3})
	require.NoError(t, err)

	assert.Equal(t, []string{"f32", "i32"}, loaded.TemplateKeys("set"))
	assert.Empty(t, loaded.TemplateKeys("missing"))
	k, ok := loaded.KernelTemplate("set", "i32")
	require.True(t, ok)
	assert.Equal(t, core.I32, k.Signature.Args[0].DType)
	assert.Equal(t, core.I32, k.Kernel.Attributes().Args[0].DType)
	_, ok = loaded.KernelTemplate("set", "f64")
	assert.False(t, ok)

	plain, ok := loaded.Kernel("set")
	require.True(t, ok)
	assert.Equal(t, core.F32, plain.Signature.Args[0].DType)
}

func TestDumpRequiresDispatchedKernels(t *testing.T) {
	t.Parallel()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	k, err := be.Kernel("relu", "relu")
	require.NoError(t, err)
	g := graph.New("g", nil)
	_, err = g.Emplace(k, model.ArrayArg("x", core.F32, 3))
	require.NoError(t, err)
	require.NoError(t, g.Compile())

	b := aot.NewBuilder("m", be, nil)
	require.NoError(t, b.AddGraph("g", g.Compiled()))
	err = b.Dump(context.Background(), aot.NewMemStore())
	assert.ErrorIs(t, err, core.ErrDeclaration)
}

func TestDirStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	store := aot.NewDirStore(t.TempDir())
	buildModule(t, be, store)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "metadata.json")
	assert.Contains(t, keys, "kernels/sum.attrs")
	assert.Contains(t, keys, "graph_activate.bin")

	loaded, err := aot.Load(ctx, store, be, nil)
	require.NoError(t, err)
	_, ok := loaded.Kernel("sum")
	assert.True(t, ok)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, aot.ErrNotFound)
	assert.Error(t, store.Put(ctx, "../escape", nil))
}

func TestManifestIsJSON(t *testing.T) {
	t.Parallel()
	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	store := aot.NewMemStore()
	buildModule(t, be, store)

	data, err := store.Get(context.Background(), aot.ManifestKey)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "{"))
	assert.Contains(t, text, `"name": "demo"`)
	assert.Contains(t, text, `"dtype": "f32"`)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := aot.DialRedis(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	be := kernels.NewBackend(kernels.NewDevice(0), nil)
	store := aot.NewRedisStore(client, "aotgraph-test", t.Name())
	buildModule(t, be, store)

	loaded, err := aot.Load(ctx, store, be, nil)
	require.NoError(t, err)
	assert.Len(t, loaded.GraphNames(), 2)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, aot.ManifestKey)
}

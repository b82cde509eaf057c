package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/aotgraph/core"
)

type stubKernel struct {
	attrs *core.KernelContextAttributes
}

func (k stubKernel) Attributes() *core.KernelContextAttributes { return k.attrs }
func (k stubKernel) Launch(*core.LaunchContext) error          { return nil }

func samplePlan() *CompiledGraph {
	return &CompiledGraph{Dispatches: []CompiledDispatch{
		{KernelName: "k1", SymbolicArgs: []Arg{ArrayArg("arr", core.I32, 10)}},
		{KernelName: "k2", SymbolicArgs: []Arg{ArrayArg("arr", core.I32, 10), ScalarArg("x", core.I32)}},
		{KernelName: "k1", SymbolicArgs: []Arg{ArrayArg("arr", core.I32, 10)}},
	}}
}

func TestPlanSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	plan := samplePlan()

	data, err := plan.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, plan.Len(), got.Len())
	for i := range plan.Dispatches {
		assert.Equal(t, plan.Dispatches[i].KernelName, got.Dispatches[i].KernelName)
		assert.Equal(t, plan.Dispatches[i].SymbolicArgs, got.Dispatches[i].SymbolicArgs)
		assert.Nil(t, got.Dispatches[i].Kernel)
	}
}

func TestDeserializeRejectsCorruptData(t *testing.T) {
	t.Parallel()
	data, err := samplePlan().Serialize()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{0, 0, 0, 0}, data[4:]...)},
		{"truncated", data[:len(data)-3]},
		{"trailing", append(append([]byte(nil), data...), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestPlanListing(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "k1(arr)\nk2(arr, x)\nk1(arr)\n", samplePlan().Listing())
	assert.Equal(t, []string{"k1", "k2"}, samplePlan().KernelNames())
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()
	plan := samplePlan()
	assert.ErrorIs(t, plan.Validate(), core.ErrDeclaration)

	one, err := core.ComputeLayout(core.Signature{Args: []core.ArgDecl{{Name: "a", DType: core.I32, IsArray: true}}})
	require.NoError(t, err)
	two, err := core.ComputeLayout(core.Signature{Args: []core.ArgDecl{
		{Name: "a", DType: core.I32, IsArray: true}, {Name: "x", DType: core.I32},
	}})
	require.NoError(t, err)

	plan.Dispatches[0].Kernel = stubKernel{one}
	plan.Dispatches[1].Kernel = stubKernel{two}
	plan.Dispatches[2].Kernel = stubKernel{one}
	assert.NoError(t, plan.Validate())

	plan.Dispatches[2].Kernel = stubKernel{two}
	assert.ErrorIs(t, plan.Validate(), core.ErrDeclaration)
}

func TestCheckArgs(t *testing.T) {
	t.Parallel()
	sig := core.Signature{Args: []core.ArgDecl{
		{Name: "arr", DType: core.I32, IsArray: true},
		{Name: "x", DType: core.I32},
	}}
	tests := []struct {
		name    string
		args    []Arg
		wantErr bool
	}{
		{"valid", []Arg{ArrayArg("arr", core.I32, 10), ScalarArg("x", core.I32)}, false},
		{"untyped names", []Arg{{Name: "arr", Kind: Array, DType: core.Unknown}, Named("x")}, false},
		{"duplicate names", []Arg{ArrayArg("a", core.I32), ScalarArg("a", core.I32)}, true},
		{"arity", []Arg{ArrayArg("arr", core.I32)}, true},
		{"kind", []Arg{ScalarArg("arr", core.I32), ScalarArg("x", core.I32)}, true},
		{"dtype", []Arg{ArrayArg("arr", core.F32), ScalarArg("x", core.I32)}, true},
		{"empty name", []Arg{ArrayArg("", core.I32), ScalarArg("x", core.I32)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckArgs("k", sig, tt.args)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrDeclaration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArgKindText(t *testing.T) {
	t.Parallel()
	var k ArgKind
	require.NoError(t, k.UnmarshalText([]byte("ndarray")))
	assert.Equal(t, Array, k)
	require.NoError(t, k.UnmarshalText([]byte("scalar")))
	assert.Equal(t, Scalar, k)
	assert.Error(t, k.UnmarshalText([]byte("matrix")))
}

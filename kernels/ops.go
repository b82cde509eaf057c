// Package kernels is the host reference backend.
//
// Device memory is plain host memory (Device, Ndarray). Kernels are ops
// from a Catalog: each op declares a core.Signature and a Func that runs
// against a Frame, which resolves array arguments to views over device
// memory through the packed launch context. Backend turns catalog ops
// into model.Kernel values and, for persisted modules, encodes a compiled
// kernel as the name of its op.
//
// Built-in ops, all in place unless they declare a return value:
//   - Elementwise: sqr_plus_x, relu, sigmoid, tanh, scale, add_scalar, fill
//   - Binary: add, mul
//   - Reductions: sum, max, dot (f32 return)
//   - Linear algebra: matmul, conv1d, batch_norm
//   - softmax, noop
package kernels

import (
	"fmt"
	"math"
	"sort"

	"github.com/sbl8/aotgraph/core"
)

// Func runs one launch of an op.
type Func func(f *Frame) error

// Op is a named host kernel with a declared signature.
type Op struct {
	Name      string
	Signature core.Signature
	Fn        Func
}

// Catalog maps op names to ops.
type Catalog struct {
	ops map[string]Op
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{ops: make(map[string]Op)}
}

// DefaultCatalog creates a catalog holding the built-in ops.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, op := range builtins() {
		if err := c.Register(op); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds op. Names are unique and signatures must be valid.
func (c *Catalog) Register(op Op) error {
	if op.Name == "" || op.Fn == nil {
		return core.Errorf(core.ErrDeclaration, "op needs a name and a function")
	}
	if _, ok := c.ops[op.Name]; ok {
		return core.Errorf(core.ErrDeclaration, "op %s already registered", op.Name)
	}
	if err := op.Signature.Validate(); err != nil {
		return fmt.Errorf("op %s: %w", op.Name, err)
	}
	c.ops[op.Name] = op
	return nil
}

// Lookup returns the op registered as name.
func (c *Catalog) Lookup(name string) (Op, bool) {
	op, ok := c.ops[name]
	return op, ok
}

// Names returns the registered op names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.ops))
	for n := range c.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func f32Array(name string) core.ArgDecl  { return core.ArgDecl{Name: name, DType: core.F32, IsArray: true} }
func f32Scalar(name string) core.ArgDecl { return core.ArgDecl{Name: name, DType: core.F32} }

var f32Ret = []core.RetDecl{{DType: core.F32}}

func builtins() []Op {
	unary := func(name string, fn func(x []float32)) Op {
		return Op{Name: name, Signature: core.Signature{Args: []core.ArgDecl{f32Array("x")}}, Fn: func(f *Frame) error {
			x, err := f.Float32s(0)
			if err != nil {
				return err
			}
			fn(x)
			return nil
		}}
	}
	return []Op{
		{Name: "noop", Signature: core.Signature{Args: []core.ArgDecl{f32Array("x")}}, Fn: func(*Frame) error { return nil }},
		unary("sqr_plus_x", sqrPlusX),
		unary("relu", relu),
		unary("sigmoid", sigmoid),
		unary("tanh", tanh),
		unary("softmax", softmaxInPlace),
		{Name: "scale", Signature: core.Signature{Args: []core.ArgDecl{f32Array("x"), f32Scalar("factor")}}, Fn: scale},
		{Name: "add_scalar", Signature: core.Signature{Args: []core.ArgDecl{f32Array("x"), f32Scalar("value")}}, Fn: addScalar},
		{Name: "fill", Signature: core.Signature{Args: []core.ArgDecl{
			{Name: "x", DType: core.I32, IsArray: true}, {Name: "value", DType: core.I32},
		}}, Fn: fill},
		{Name: "add", Signature: core.Signature{Args: []core.ArgDecl{f32Array("a"), f32Array("b")}}, Fn: binaryOp(addInPlace)},
		{Name: "mul", Signature: core.Signature{Args: []core.ArgDecl{f32Array("a"), f32Array("b")}}, Fn: binaryOp(mulInPlace)},
		{Name: "sum", Signature: core.Signature{Args: []core.ArgDecl{f32Array("x")}, Rets: f32Ret}, Fn: vectorSum},
		{Name: "max", Signature: core.Signature{Args: []core.ArgDecl{f32Array("x")}, Rets: f32Ret}, Fn: vectorMax},
		{Name: "dot", Signature: core.Signature{Args: []core.ArgDecl{f32Array("a"), f32Array("b")}, Rets: f32Ret}, Fn: vectorDot},
		{Name: "matmul", Signature: core.Signature{Args: []core.ArgDecl{f32Array("a"), f32Array("b"), f32Array("out")}}, Fn: matMulOp},
		{Name: "conv1d", Signature: core.Signature{Args: []core.ArgDecl{f32Array("input"), f32Array("kernel"), f32Array("out")}}, Fn: conv1D},
		{Name: "batch_norm", Signature: core.Signature{Args: []core.ArgDecl{
			f32Array("x"), f32Scalar("mean"), f32Scalar("variance"), f32Scalar("gamma"), f32Scalar("beta"),
		}}, Fn: batchNorm},
	}
}

// -------- Elementwise ----------

func sqrPlusX(x []float32) {
	for i, v := range x {
		x[i] = v*v + v
	}
}

// relu implements Rectified Linear Unit: max(0, x)
func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// sigmoid is the logistic function 1 / (1 + e^-x)
func sigmoid(x []float32) {
	for i, v := range x {
		x[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}

// tanh implements hyperbolic tangent with rational approximation
func tanh(x []float32) {
	for i, v := range x {
		v2 := v * v
		x[i] = v * (27 + v2) / (27 + 9*v2)
	}
}

func scale(f *Frame) error {
	x, err := f.Float32s(0)
	if err != nil {
		return err
	}
	factor, err := f.Float(1)
	if err != nil {
		return err
	}
	for i := range x {
		x[i] *= float32(factor)
	}
	return nil
}

func addScalar(f *Frame) error {
	x, err := f.Float32s(0)
	if err != nil {
		return err
	}
	v, err := f.Float(1)
	if err != nil {
		return err
	}
	for i := range x {
		x[i] += float32(v)
	}
	return nil
}

func fill(f *Frame) error {
	x, err := f.Array(0)
	if err != nil {
		return err
	}
	v, err := f.Int(1)
	if err != nil {
		return err
	}
	for i := range x.Len() {
		x.SetInt(i, v)
	}
	return nil
}

func binaryOp(fn func(a, b []float32)) Func {
	return func(f *Frame) error {
		a, err := f.Float32s(0)
		if err != nil {
			return err
		}
		b, err := f.Float32s(1)
		if err != nil {
			return err
		}
		if len(a) != len(b) {
			return fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
		}
		fn(a, b)
		return nil
	}
}

// -------- Reductions ----------

func vectorSum(f *Frame) error {
	x, err := f.Float32s(0)
	if err != nil {
		return err
	}
	var sum float32
	for _, v := range x {
		sum += v
	}
	return f.SetFloatRet(0, float64(sum))
}

func vectorMax(f *Frame) error {
	x, err := f.Float32s(0)
	if err != nil {
		return err
	}
	maxVal := float32(math.Inf(-1))
	for _, v := range x {
		maxVal = max(maxVal, v)
	}
	return f.SetFloatRet(0, float64(maxVal))
}

func vectorDot(f *Frame) error {
	a, err := f.Float32s(0)
	if err != nil {
		return err
	}
	b, err := f.Float32s(1)
	if err != nil {
		return err
	}
	if len(a) != len(b) {
		return fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	return f.SetFloatRet(0, float64(dot(a, b)))
}

// -------- Linear algebra ----------

// matMulOp takes its dimensions from the extents of a [m,k], b [k,n] and
// out [m,n].
func matMulOp(f *Frame) error {
	av, err := f.Array(0)
	if err != nil {
		return err
	}
	bv, err := f.Array(1)
	if err != nil {
		return err
	}
	ov, err := f.Array(2)
	if err != nil {
		return err
	}
	if len(av.Shape) != 2 || len(bv.Shape) != 2 || len(ov.Shape) != 2 {
		return fmt.Errorf("matmul needs rank 2 operands, got %v %v %v", av.Shape, bv.Shape, ov.Shape)
	}
	m, k, n := av.Shape[0], av.Shape[1], bv.Shape[1]
	if bv.Shape[0] != k || ov.Shape[0] != m || ov.Shape[1] != n {
		return fmt.Errorf("matrix dimension mismatch: %v x %v -> %v", av.Shape, bv.Shape, ov.Shape)
	}
	a, _ := f.Float32s(0)
	b, _ := f.Float32s(1)
	out, _ := f.Float32s(2)
	matMul(a, b, out, m, k, n)
	return nil
}

// conv1D writes the valid convolution of input with kernel into out.
func conv1D(f *Frame) error {
	input, err := f.Float32s(0)
	if err != nil {
		return err
	}
	kernel, err := f.Float32s(1)
	if err != nil {
		return err
	}
	out, err := f.Float32s(2)
	if err != nil {
		return err
	}
	n := len(input) - len(kernel) + 1
	if n <= 0 || len(out) < n {
		return fmt.Errorf("conv1d: input %d, kernel %d, out %d", len(input), len(kernel), len(out))
	}
	for i := range n {
		out[i] = dot(input[i:i+len(kernel)], kernel)
	}
	return nil
}

func batchNorm(f *Frame) error {
	x, err := f.Float32s(0)
	if err != nil {
		return err
	}
	var p [4]float64
	for i := range p {
		if p[i], err = f.Float(i + 1); err != nil {
			return err
		}
	}
	mean, variance, gamma, beta := float32(p[0]), p[1], float32(p[2]), float32(p[3])
	invStd := 1.0 / float32(math.Sqrt(variance+1e-5))
	for i, v := range x {
		x[i] = gamma*(v-mean)*invStd + beta
	}
	return nil
}

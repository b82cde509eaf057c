package kernels

import (
	"bytes"
	"fmt"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/model"
)

// artifactPrefix tags host backend artifacts; the op name follows.
var artifactPrefix = []byte("host:")

// Backend compiles catalog ops for one Device.
type Backend struct {
	dev *Device
	cat *Catalog
}

// NewBackend creates a backend. A nil catalog means DefaultCatalog.
func NewBackend(dev *Device, cat *Catalog) *Backend {
	if cat == nil {
		cat = DefaultCatalog()
	}
	return &Backend{dev: dev, cat: cat}
}

// Device returns the device kernels launch on.
func (b *Backend) Device() *Device { return b.dev }

// Catalog returns the op catalog.
func (b *Backend) Catalog() *Catalog { return b.cat }

// Kernel declares a kernel named name that runs op.
func (b *Backend) Kernel(name, op string) (*Kernel, error) {
	o, ok := b.cat.Lookup(op)
	if !ok {
		return nil, core.Errorf(core.ErrDeclaration, "kernel %s: unknown op %q", name, op)
	}
	if name == "" {
		name = op
	}
	return &Kernel{name: name, op: o, dev: b.dev}, nil
}

// Kernel is a declared host kernel.
type Kernel struct {
	name string
	op   Op
	dev  *Device
}

func (k *Kernel) Name() string              { return k.name }
func (k *Kernel) Signature() core.Signature { return k.op.Signature.Clone() }

// Op returns the name of the op the kernel runs.
func (k *Kernel) Op() string { return k.op.Name }

// CompileToAOT computes the context layout of the op's signature.
func (k *Kernel) CompileToAOT() (model.AotKernel, error) {
	attrs, err := core.ComputeLayout(k.op.Signature)
	if err != nil {
		return nil, err
	}
	return &Compiled{name: k.name, op: k.op, attrs: attrs, dev: k.dev}, nil
}

// Compiled is a launchable host kernel.
type Compiled struct {
	name  string
	op    Op
	attrs *core.KernelContextAttributes
	dev   *Device
}

func (c *Compiled) Attributes() *core.KernelContextAttributes { return c.attrs }

// Launch runs the op synchronously on the host.
func (c *Compiled) Launch(ctx *core.LaunchContext) error {
	if err := c.op.Fn(NewFrame(ctx, c.dev)); err != nil {
		return fmt.Errorf("kernel %s (%s): %w", c.name, c.op.Name, err)
	}
	return nil
}

// EncodeKernel returns the persisted artifact of a compiled kernel.
func (b *Backend) EncodeKernel(k model.AotKernel) ([]byte, error) {
	c, ok := k.(*Compiled)
	if !ok {
		return nil, fmt.Errorf("host backend cannot encode %T", k)
	}
	return append(append([]byte(nil), artifactPrefix...), c.op.Name...), nil
}

// DecodeKernel rebuilds a compiled kernel from its artifact. attrs are the
// persisted layout, which the loader has already checked against sig.
func (b *Backend) DecodeKernel(name string, sig core.Signature, attrs *core.KernelContextAttributes, artifact []byte) (model.AotKernel, error) {
	opName, ok := bytes.CutPrefix(artifact, artifactPrefix)
	if !ok {
		return nil, fmt.Errorf("kernel %s: not a host artifact", name)
	}
	op, ok := b.cat.Lookup(string(opName))
	if !ok {
		return nil, core.Errorf(core.ErrDeclaration, "kernel %s: unknown op %q", name, opName)
	}
	if !sameParams(op.Signature, sig) {
		return nil, core.Errorf(core.ErrLayoutInconsistency, "kernel %s: persisted signature does not match op %s", name, op.Name)
	}
	return &Compiled{name: name, op: op, attrs: attrs, dev: b.dev}, nil
}

// sameParams compares parameter types and kinds, ignoring names.
func sameParams(a, b core.Signature) bool {
	if len(a.Args) != len(b.Args) || len(a.Rets) != len(b.Rets) {
		return false
	}
	for i := range a.Args {
		x, y := a.Args[i], b.Args[i]
		if x.DType != y.DType || x.IsArray != y.IsArray || !core.ShapeEqual(x.ElementShape, y.ElementShape) {
			return false
		}
	}
	for i := range a.Rets {
		x, y := a.Rets[i], b.Rets[i]
		if x.DType != y.DType || x.IsArray != y.IsArray || !core.ShapeEqual(x.ElementShape, y.ElementShape) {
			return false
		}
	}
	return true
}

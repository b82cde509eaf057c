package model

import "github.com/sbl8/aotgraph/core"

// Kernel is a kernel as declared by the authoring environment. Backend
// compilation is an opaque step that yields an AotKernel.
type Kernel interface {
	Name() string
	Signature() core.Signature
	// CompileToAOT must be a pure function of the kernel's identity so that
	// compiling it again is wasteful but never wrong.
	CompileToAOT() (AotKernel, error)
}

// AotKernel is a compiled launch handle. It is shared read-only across
// every run of every plan that references it.
type AotKernel interface {
	// Attributes is the packed context layout the kernel expects.
	Attributes() *core.KernelContextAttributes
	// Launch submits the kernel. It does not wait for device completion,
	// but must not retain ctx after it returns.
	Launch(ctx *core.LaunchContext) error
}

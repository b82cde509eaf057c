// Package graph builds symbolic dispatch graphs and compiles them into
// position-addressed plans.
//
// A Graph owns every node it creates in a node arena; nodes are addressed
// by NodeID and never freed individually. The root is a Sequential that
// exists from construction. Compile walks the tree in pre-order and
// produces one model.CompiledDispatch per Dispatch node:
//
//	root = [D1, Sequential[D2, D3], D4]  ->  plan = [D1, D2, D3, D4]
//
// After Compile the tree is frozen. Run only consults the compiled plan.
package graph

import (
	"github.com/rs/zerolog"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/model"
	"github.com/sbl8/aotgraph/runtime"
)

// NodeID addresses a node in its graph's arena.
type NodeID int

// NoNode is the parent of nodes that were never appended.
const NoNode NodeID = -1

// NodeKind distinguishes the node variants.
type NodeKind uint8

const (
	DispatchNode NodeKind = iota
	SequentialNode
)

func (k NodeKind) String() string {
	if k == DispatchNode {
		return "dispatch"
	}
	return "sequential"
}

// node is one of *dispatch or *sequence.
type node interface {
	kind() NodeKind
	parentID() NodeID
	setParent(NodeID)
}

type dispatch struct {
	kernel model.Kernel
	args   []model.Arg
	parent NodeID
}

type sequence struct {
	children []NodeID
	parent   NodeID
}

func (*dispatch) kind() NodeKind       { return DispatchNode }
func (*sequence) kind() NodeKind       { return SequentialNode }
func (d *dispatch) parentID() NodeID   { return d.parent }
func (s *sequence) parentID() NodeID   { return s.parent }
func (d *dispatch) setParent(p NodeID) { d.parent = p }
func (s *sequence) setParent(p NodeID) { s.parent = p }

// Options configures a Graph.
type Options struct {
	Logger zerolog.Logger
	// Hook is passed to the graph's executor.
	Hook runtime.LaunchHook
}

// DefaultOptions provides a silent graph.
func DefaultOptions() Options {
	return Options{Logger: zerolog.Nop()}
}

// Graph is a named tree of kernel dispatches.
type Graph struct {
	name  string
	log   zerolog.Logger
	nodes []node
	root  NodeID

	compiled     *model.CompiledGraph
	compilations int
	exec         *runtime.Executor
}

// New creates an empty graph with a fresh root Sequential. A nil opts
// means DefaultOptions.
func New(name string, opts *Options) *Graph {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	g := &Graph{
		name: name,
		log:  o.Logger.With().Str("graph", name).Logger(),
		exec: runtime.NewExecutor(&runtime.Options{Logger: o.Logger, Hook: o.Hook}),
	}
	g.root = g.add(&sequence{parent: NoNode})
	return g
}

// FromCompiled wraps an already compiled plan, e.g. one reconstructed by a
// module loader. The returned graph is frozen and has an empty tree.
func FromCompiled(name string, plan *model.CompiledGraph, opts *Options) (*Graph, error) {
	if plan == nil {
		return nil, core.Errorf(core.ErrNotCompiled, "graph %s: nil plan", name)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	g := New(name, opts)
	g.compiled = plan
	return g, nil
}

func (g *Graph) add(n node) NodeID {
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Root returns the root Sequential.
func (g *Graph) Root() NodeID { return g.root }

// Seq returns a handle on the root Sequential.
func (g *Graph) Seq() *Sequential {
	return &Sequential{g: g, id: g.root}
}

// Len returns the number of nodes in the arena, root included.
func (g *Graph) Len() int { return len(g.nodes) }

// Kind reports the variant of node id.
func (g *Graph) Kind(id NodeID) (NodeKind, error) {
	n, err := g.node(id)
	if err != nil {
		return 0, err
	}
	return n.kind(), nil
}

// Parent reports the Sequential that node id was appended to, or NoNode.
func (g *Graph) Parent(id NodeID) (NodeID, error) {
	n, err := g.node(id)
	if err != nil {
		return NoNode, err
	}
	return n.parentID(), nil
}

func (g *Graph) node(id NodeID) (node, error) {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, core.Errorf(core.ErrDeclaration, "graph %s: node %d does not exist", g.name, id)
	}
	return g.nodes[id], nil
}

func (g *Graph) mutable() error {
	if g.compiled != nil {
		return core.Errorf(core.ErrFrozen, "graph %s is compiled", g.name)
	}
	return nil
}

// CreateDispatch adds an unattached Dispatch node invoking k with args in
// parameter order. The args must match the kernel signature and carry
// unique names.
func (g *Graph) CreateDispatch(k model.Kernel, args ...model.Arg) (NodeID, error) {
	if err := g.mutable(); err != nil {
		return NoNode, err
	}
	if k == nil {
		return NoNode, core.Errorf(core.ErrDeclaration, "graph %s: dispatch without kernel", g.name)
	}
	sig := k.Signature()
	if err := sig.Validate(); err != nil {
		return NoNode, core.Wrapf(core.ErrDeclaration, err, "graph %s: kernel %s", g.name, k.Name())
	}
	if err := model.CheckArgs(k.Name(), sig, args); err != nil {
		return NoNode, err
	}
	id := g.add(&dispatch{kernel: k, args: model.CloneArgs(args), parent: NoNode})
	g.log.Trace().Int("node", int(id)).Str("kernel", k.Name()).Msg("dispatch created")
	return id, nil
}

// CreateSequential adds an unattached, empty Sequential node.
func (g *Graph) CreateSequential() (*Sequential, error) {
	if err := g.mutable(); err != nil {
		return nil, err
	}
	return &Sequential{g: g, id: g.add(&sequence{parent: NoNode})}, nil
}

// Emplace creates a Dispatch and appends it to the root.
func (g *Graph) Emplace(k model.Kernel, args ...model.Arg) (NodeID, error) {
	return g.Seq().Emplace(k, args...)
}

// Append appends an existing node to the root.
func (g *Graph) Append(id NodeID) error {
	return g.Seq().Append(id)
}

// Sequential is a handle on a Sequential node of a graph.
type Sequential struct {
	g  *Graph
	id NodeID
}

// ID returns the node id of the Sequential.
func (s *Sequential) ID() NodeID { return s.id }

func (s *Sequential) seq() *sequence {
	return s.g.nodes[s.id].(*sequence)
}

// Children returns the child ids in order.
func (s *Sequential) Children() []NodeID {
	return append([]NodeID(nil), s.seq().children...)
}

// Append attaches an existing node. A node can belong to at most one
// Sequential, and the root can never be appended.
func (s *Sequential) Append(id NodeID) error {
	g := s.g
	if err := g.mutable(); err != nil {
		return err
	}
	n, err := g.node(id)
	if err != nil {
		return err
	}
	if id == g.root {
		return core.Errorf(core.ErrDeclaration, "graph %s: the root cannot be appended", g.name)
	}
	if p := n.parentID(); p != NoNode {
		return core.Errorf(core.ErrDeclaration, "graph %s: node %d already belongs to sequential %d", g.name, id, p)
	}
	for anc := s.id; anc != NoNode; anc = g.nodes[anc].parentID() {
		if anc == id {
			return core.Errorf(core.ErrDeclaration, "graph %s: appending node %d to %d would form a cycle", g.name, id, s.id)
		}
	}
	n.setParent(s.id)
	seq := s.seq()
	seq.children = append(seq.children, id)
	return nil
}

// Emplace creates a Dispatch against the owning graph and appends it.
func (s *Sequential) Emplace(k model.Kernel, args ...model.Arg) (NodeID, error) {
	id, err := s.g.CreateDispatch(k, args...)
	if err != nil {
		return NoNode, err
	}
	if err := s.Append(id); err != nil {
		return NoNode, err
	}
	return id, nil
}

// Compile flattens the tree into a plan, compiling the kernel of every
// Dispatch node. Any failure leaves the graph uncompiled. Compiling a
// compiled graph is a no-op.
func (g *Graph) Compile() error {
	if g.compiled != nil {
		return nil
	}
	plan := &model.CompiledGraph{}
	compilations := 0
	if err := g.compileNode(g.root, plan, &compilations); err != nil {
		return err
	}
	g.compiled = plan
	g.compilations += compilations
	g.log.Debug().Int("dispatches", plan.Len()).Int("compilations", compilations).Msg("graph compiled")
	return nil
}

func (g *Graph) compileNode(id NodeID, plan *model.CompiledGraph, compilations *int) error {
	switch n := g.nodes[id].(type) {
	case *sequence:
		for _, c := range n.children {
			if err := g.compileNode(c, plan, compilations); err != nil {
				return err
			}
		}
		return nil
	case *dispatch:
		name := n.kernel.Name()
		aot, err := n.kernel.CompileToAOT()
		*compilations++
		if err != nil {
			return core.Wrapf(core.ErrCompilation, err, "graph %s: compile kernel %s", g.name, name)
		}
		if aot == nil {
			return core.Errorf(core.ErrCompilation, "graph %s: kernel %s produced no handle", g.name, name)
		}
		if err := core.VerifyLayout(n.kernel.Signature(), aot.Attributes()); err != nil {
			return core.Wrapf(core.ErrCompilation, err, "graph %s: kernel %s", g.name, name)
		}
		for i, a := range aot.Attributes().Args {
			g.log.Trace().Str("kernel", name).Int("arg", i).Int("offset", a.Offset).Int("stride", a.Stride).Msg("arg layout")
		}
		plan.Dispatches = append(plan.Dispatches, model.CompiledDispatch{
			KernelName:   name,
			SymbolicArgs: model.CloneArgs(n.args),
			Kernel:       aot,
		})
		return nil
	default:
		panic("graph: unknown node variant")
	}
}

// Compiled returns the plan, or nil before Compile.
func (g *Graph) Compiled() *model.CompiledGraph { return g.compiled }

// Compilations returns how many backend compilations Compile triggered.
func (g *Graph) Compilations() int { return g.compilations }

// Kernels returns the distinct kernels referenced by Dispatch nodes
// reachable from the root, in pre-order of first use.
func (g *Graph) Kernels() []model.Kernel {
	seen := make(map[string]bool)
	var out []model.Kernel
	var walk func(NodeID)
	walk = func(id NodeID) {
		switch n := g.nodes[id].(type) {
		case *sequence:
			for _, c := range n.children {
				walk(c)
			}
		case *dispatch:
			if name := n.kernel.Name(); !seen[name] {
				seen[name] = true
				out = append(out, n.kernel)
			}
		}
	}
	walk(g.root)
	return out
}

// Run executes the compiled plan with args bound by name.
func (g *Graph) Run(args map[string]runtime.IValue) error {
	if g.compiled == nil {
		return core.Errorf(core.ErrNotCompiled, "graph %s: run before compile", g.name)
	}
	return g.exec.Run(g.compiled, args)
}

// Stats returns the counters of the graph's executor.
func (g *Graph) Stats() runtime.Stats { return g.exec.Stats() }

package graph

import (
	"github.com/sbl8/aotgraph/core"
)

// Module groups named graphs that are compiled and shipped together.
type Module struct {
	opts   *Options
	graphs map[string]*Graph
	order  []string
}

// NewModule creates an empty module whose graphs share opts.
func NewModule(opts *Options) *Module {
	return &Module{opts: opts, graphs: make(map[string]*Graph)}
}

// NewGraph creates and registers an empty graph. Names are unique within
// a module.
func (m *Module) NewGraph(name string) (*Graph, error) {
	if name == "" {
		return nil, core.Errorf(core.ErrDeclaration, "graph name is empty")
	}
	if _, ok := m.graphs[name]; ok {
		return nil, core.Errorf(core.ErrDeclaration, "Graph %s already exists", name)
	}
	g := New(name, m.opts)
	m.graphs[name] = g
	m.order = append(m.order, name)
	return g, nil
}

// Graph looks up a graph by name.
func (m *Module) Graph(name string) (*Graph, bool) {
	g, ok := m.graphs[name]
	return g, ok
}

// Names returns graph names in creation order.
func (m *Module) Names() []string {
	return append([]string(nil), m.order...)
}

// CompileAll compiles every graph in creation order, stopping at the
// first failure.
func (m *Module) CompileAll() error {
	for _, name := range m.order {
		if err := m.graphs[name].Compile(); err != nil {
			return err
		}
	}
	return nil
}

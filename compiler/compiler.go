// Package compiler turns YAML graph descriptions into persisted AOT modules.
//
// This package implements the aotc front end. A description names the
// kernels of a module (each bound to a backend op), optional field
// descriptors, and graphs built from nested steps:
//
//	module: demo
//	kernels:
//	  - {name: square, op: sqr_plus_x}
//	graphs:
//	  - name: pipeline
//	    steps:
//	      - kernel: square
//	        args: [{name: x, kind: array, dtype: f32, shape: [4]}]
//	      - sequential:
//	          - kernel: square
//	            args: [{name: x, kind: array, dtype: f32, shape: [4]}]
//
// Compilation pipeline:
//  1. Parse the description (unknown keys are errors)
//  2. Validate names, steps and argument declarations
//  3. Build and compile a symbolic graph per description graph
//  4. Dump kernels, fields and plans through an aot.Builder
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/aotgraph/aot"
	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/model"
)

// Description is a parsed module description.
type Description struct {
	Module  string       `yaml:"module"`
	Kernels []KernelSpec `yaml:"kernels"`
	Fields  []FieldSpec  `yaml:"fields,omitempty"`
	Graphs  []GraphSpec  `yaml:"graphs"`
}

// KernelSpec binds a kernel name to a backend op.
type KernelSpec struct {
	Name string `yaml:"name"`
	Op   string `yaml:"op"`
}

// FieldSpec declares a field.
type FieldSpec struct {
	Name   string `yaml:"name"`
	DType  string `yaml:"dtype"`
	Shape  []int  `yaml:"shape,omitempty"`
	Scalar bool   `yaml:"scalar,omitempty"`
	Rows   int    `yaml:"rows,omitempty"`
	Cols   int    `yaml:"cols,omitempty"`
}

// GraphSpec is one named graph.
type GraphSpec struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is either a dispatch (Kernel and Args) or a nested sequence.
type StepSpec struct {
	Kernel     string     `yaml:"kernel,omitempty"`
	Args       []ArgSpec  `yaml:"args,omitempty"`
	Sequential []StepSpec `yaml:"sequential,omitempty"`
}

// ArgSpec declares a symbolic argument. An empty dtype defers to the
// kernel signature.
type ArgSpec struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind,omitempty"`
	DType string `yaml:"dtype,omitempty"`
	Shape []int  `yaml:"shape,omitempty"`
}

// Arg converts the declaration to a model.Arg.
func (a ArgSpec) Arg() (model.Arg, error) {
	var kind model.ArgKind
	if err := kind.UnmarshalText([]byte(a.Kind)); err != nil {
		return model.Arg{}, core.Wrapf(core.ErrDeclaration, err, "argument %s", a.Name)
	}
	dt, err := core.ParseDataType(a.DType)
	if err != nil {
		return model.Arg{}, core.Wrapf(core.ErrDeclaration, err, "argument %s", a.Name)
	}
	if kind == model.Scalar && len(a.Shape) != 0 {
		return model.Arg{}, core.Errorf(core.ErrDeclaration, "argument %s: scalar with shape %v", a.Name, a.Shape)
	}
	if kind == model.Array {
		return model.ArrayArg(a.Name, dt, a.Shape...), nil
	}
	return model.ScalarArg(a.Name, dt), nil
}

// Parse decodes a YAML description. Unknown keys are rejected.
func Parse(src []byte) (*Description, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	var d Description
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Wrap(err, "parse description")
	}
	return &d, nil
}

// LoadDescription reads and parses a description file.
func LoadDescription(path string) (*Description, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read source")
	}
	return Parse(src)
}

// Validate checks the description without consulting a backend.
func (d *Description) Validate() error {
	if d.Module == "" {
		return core.Errorf(core.ErrDeclaration, "module name is empty")
	}
	seen := make(map[string]bool)
	for i, k := range d.Kernels {
		if k.Name == "" || k.Op == "" {
			return core.Errorf(core.ErrDeclaration, "kernel %d needs a name and an op", i)
		}
		if seen[k.Name] {
			return core.Errorf(core.ErrDeclaration, "duplicate kernel %s", k.Name)
		}
		seen[k.Name] = true
	}
	graphs := make(map[string]bool)
	for _, g := range d.Graphs {
		if g.Name == "" {
			return core.Errorf(core.ErrDeclaration, "graph name is empty")
		}
		if graphs[g.Name] {
			return core.Errorf(core.ErrDeclaration, "Graph %s already exists", g.Name)
		}
		graphs[g.Name] = true
		if err := validateSteps(g.Name, g.Steps, seen); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(graphName string, steps []StepSpec, kernels map[string]bool) error {
	for i, s := range steps {
		switch {
		case s.Kernel != "" && s.Sequential != nil:
			return core.Errorf(core.ErrDeclaration, "graph %s step %d: both kernel and sequential", graphName, i)
		case s.Kernel != "":
			if !kernels[s.Kernel] {
				return core.Errorf(core.ErrDeclaration, "graph %s step %d: undeclared kernel %s", graphName, i, s.Kernel)
			}
		case s.Sequential != nil:
			if len(s.Args) != 0 {
				return core.Errorf(core.ErrDeclaration, "graph %s step %d: sequential steps take no args", graphName, i)
			}
			if err := validateSteps(graphName, s.Sequential, kernels); err != nil {
				return err
			}
		default:
			return core.Errorf(core.ErrDeclaration, "graph %s step %d: empty step", graphName, i)
		}
	}
	return nil
}

// CompileOptions configures the compilation process.
type CompileOptions struct {
	Logger zerolog.Logger
	// Listing writes every compiled plan to the logger at info level.
	Listing bool
}

// DefaultOptions provides a silent compilation.
func DefaultOptions() CompileOptions {
	return CompileOptions{Logger: zerolog.Nop()}
}

// Build declares the kernels on be, builds and compiles every graph, and
// returns a builder holding the whole module, ready to Dump.
func Build(d *Description, be *kernels.Backend, opts CompileOptions) (*aot.Builder, *graph.Module, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "validation error")
	}
	log := opts.Logger.With().Str("module", d.Module).Logger()

	decl := make(map[string]*kernels.Kernel, len(d.Kernels))
	for _, ks := range d.Kernels {
		k, err := be.Kernel(ks.Name, ks.Op)
		if err != nil {
			return nil, nil, err
		}
		decl[ks.Name] = k
	}

	m := graph.NewModule(&graph.Options{Logger: opts.Logger})
	for _, gs := range d.Graphs {
		g, err := m.NewGraph(gs.Name)
		if err != nil {
			return nil, nil, err
		}
		if err := buildSteps(g, g.Seq(), gs.Steps, decl); err != nil {
			return nil, nil, errors.WithMessagef(err, "graph %s", gs.Name)
		}
	}
	if err := m.CompileAll(); err != nil {
		return nil, nil, err
	}

	b := aot.NewBuilder(d.Module, be, &aot.Options{Logger: opts.Logger, Workers: 1})
	// declared kernels are persisted even when no graph dispatches them
	for _, ks := range d.Kernels {
		if err := b.AddKernel(ks.Name, decl[ks.Name]); err != nil {
			return nil, nil, err
		}
	}
	if err := b.AddModule(m); err != nil {
		return nil, nil, err
	}
	for _, fs := range d.Fields {
		dt, err := core.ParseDataType(fs.DType)
		if err != nil {
			return nil, nil, core.Wrapf(core.ErrDeclaration, err, "field %s", fs.Name)
		}
		f := aot.FieldDecl{DType: dt, Shape: fs.Shape, IsScalar: fs.Scalar, Rows: fs.Rows, Cols: fs.Cols}
		if err := b.AddField(fs.Name, f); err != nil {
			return nil, nil, err
		}
	}

	for _, name := range m.Names() {
		g, _ := m.Graph(name)
		log.Debug().Str("graph", name).Int("dispatches", g.Compiled().Len()).Msg("graph compiled")
		if opts.Listing {
			log.Info().Str("graph", name).Msg("\n" + g.Compiled().Listing())
		}
	}
	return b, m, nil
}

func buildSteps(g *graph.Graph, seq *graph.Sequential, steps []StepSpec, decl map[string]*kernels.Kernel) error {
	for i, s := range steps {
		if s.Kernel == "" {
			child, err := g.CreateSequential()
			if err != nil {
				return err
			}
			if err := buildSteps(g, child, s.Sequential, decl); err != nil {
				return err
			}
			if err := seq.Append(child.ID()); err != nil {
				return err
			}
			continue
		}
		args := make([]model.Arg, len(s.Args))
		for j, as := range s.Args {
			a, err := as.Arg()
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			args[j] = a
		}
		if _, err := seq.Emplace(decl[s.Kernel], args...); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Compile reads the description at src, compiles it against be and dumps
// the module into store.
func Compile(ctx context.Context, src string, store aot.Store, be *kernels.Backend, opts CompileOptions) error {
	d, err := LoadDescription(src)
	if err != nil {
		return err
	}
	b, _, err := Build(d, be, opts)
	if err != nil {
		return err
	}
	return errors.WithMessage(b.Dump(ctx, store), "failed to write module")
}

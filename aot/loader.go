package aot

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/model"
)

// LoadedKernel is a kernel reconstructed from a module.
type LoadedKernel struct {
	Name      string
	Signature core.Signature
	Kernel    model.AotKernel
}

// Module is a loaded module. Its plans are shared read-only by every graph
// handed out by Graph.
type Module struct {
	name      string
	log       zerolog.Logger
	kernels   map[string]LoadedKernel
	templates map[string]map[string]LoadedKernel
	fields    map[string]FieldDecl
	plans     map[string]*model.CompiledGraph
	graphs    []string
}

// Load reads the module in store, verifies every kernel layout and binds
// the dispatch plans to the decoded kernels.
func Load(ctx context.Context, store Store, codec KernelCodec, opts *Options) (*Module, error) {
	o := resolveOptions(opts)

	data, err := store.Get(ctx, ManifestKey)
	if err != nil {
		return nil, errors.WithMessage(err, "load manifest")
	}
	man, err := decodeManifest(data)
	if err != nil {
		return nil, err
	}
	m := &Module{
		name:      man.Name,
		log:       o.Logger.With().Str("module", man.Name).Logger(),
		kernels:   make(map[string]LoadedKernel, len(man.Kernels)),
		templates: make(map[string]map[string]LoadedKernel, len(man.Templates)),
		fields:    make(map[string]FieldDecl, len(man.Fields)),
		plans:     make(map[string]*model.CompiledGraph, len(man.Graphs)),
		graphs:    append([]string(nil), man.Graphs...),
	}

	entries := append([]KernelEntry(nil), man.Kernels...)
	for _, t := range man.Templates {
		for _, inst := range t.Instances {
			inst.Name = t.Name
			entries = append(entries, inst)
		}
	}
	loaded := make([]LoadedKernel, len(entries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.Workers)
	for i, entry := range entries {
		eg.Go(func() error {
			k, err := loadKernel(egCtx, store, codec, entry)
			if err != nil {
				return err
			}
			loaded[i] = k
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for i, k := range loaded {
		key := entries[i].Key
		if key == "" {
			if _, dup := m.kernels[k.Name]; dup {
				return nil, core.Errorf(core.ErrDeclaration, "module %s lists kernel %s twice", man.Name, k.Name)
			}
			m.kernels[k.Name] = k
			continue
		}
		inst := m.templates[k.Name]
		if inst == nil {
			inst = make(map[string]LoadedKernel)
			m.templates[k.Name] = inst
		}
		if _, dup := inst[key]; dup {
			return nil, core.Errorf(core.ErrDeclaration, "module %s lists template %s[%s] twice", man.Name, k.Name, key)
		}
		inst[key] = k
	}

	for _, f := range man.Fields {
		if err := f.validate(f.Name); err != nil {
			return nil, err
		}
		m.fields[f.Name] = f.FieldDecl
	}

	for _, name := range man.Graphs {
		plan, err := m.loadPlan(ctx, store, name)
		if err != nil {
			return nil, err
		}
		m.plans[name] = plan
	}

	m.log.Debug().Int("kernels", len(m.kernels)).Int("graphs", len(m.plans)).Msg("module loaded")
	return m, nil
}

func loadKernel(ctx context.Context, store Store, codec KernelCodec, entry KernelEntry) (LoadedKernel, error) {
	raw, err := store.Get(ctx, entry.Attrs)
	if err != nil {
		return LoadedKernel{}, errors.WithMessagef(err, "kernel %s attributes", entry.Name)
	}
	attrs, err := core.DecodeAttributes(raw)
	if err != nil {
		return LoadedKernel{}, errors.WithMessagef(err, "kernel %s", entry.Name)
	}
	if err := core.VerifyLayout(entry.Signature, attrs); err != nil {
		return LoadedKernel{}, errors.WithMessagef(err, "kernel %s", entry.Name)
	}
	artifact, err := store.Get(ctx, entry.Artifact)
	if err != nil {
		return LoadedKernel{}, errors.WithMessagef(err, "kernel %s artifact", entry.Name)
	}
	k, err := codec.DecodeKernel(entry.Name, entry.Signature, attrs, artifact)
	if err != nil {
		return LoadedKernel{}, errors.WithMessagef(err, "decode kernel %s", entry.Name)
	}
	return LoadedKernel{Name: entry.Name, Signature: entry.Signature, Kernel: k}, nil
}

func (m *Module) loadPlan(ctx context.Context, store Store, name string) (*model.CompiledGraph, error) {
	data, err := store.Get(ctx, graphKey(name))
	if err != nil {
		return nil, errors.WithMessagef(err, "graph %s", name)
	}
	plan, err := model.Deserialize(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "graph %s", name)
	}
	for i := range plan.Dispatches {
		d := &plan.Dispatches[i]
		k, ok := m.kernels[d.KernelName]
		if !ok {
			return nil, core.Errorf(core.ErrDeclaration, "graph %s dispatch %d: kernel %s is not in the module", name, i, d.KernelName)
		}
		if err := model.CheckArgs(d.KernelName, k.Signature, d.SymbolicArgs); err != nil {
			return nil, errors.WithMessagef(err, "graph %s dispatch %d", name, i)
		}
		d.Kernel = k.Kernel
	}
	return plan, nil
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Graph returns a ready-to-run graph over the persisted plan name. Each
// call returns an independent graph with its own executor.
func (m *Module) Graph(name string, opts *graph.Options) (*graph.Graph, error) {
	plan, ok := m.plans[name]
	if !ok {
		return nil, core.Errorf(core.ErrDeclaration, "module %s has no graph %s", m.name, name)
	}
	return graph.FromCompiled(name, plan, opts)
}

// GraphNames returns the graph names in manifest order.
func (m *Module) GraphNames() []string { return append([]string(nil), m.graphs...) }

// Kernel looks up a loaded kernel.
func (m *Module) Kernel(name string) (LoadedKernel, bool) {
	k, ok := m.kernels[name]
	return k, ok
}

// KernelNames returns the kernel names, sorted.
func (m *Module) KernelNames() []string { return sortedKeys(m.kernels) }

// KernelTemplate looks up the instance key of the kernel template name.
func (m *Module) KernelTemplate(name, key string) (LoadedKernel, bool) {
	k, ok := m.templates[name][key]
	return k, ok
}

// TemplateKeys returns the instance keys of the kernel template name, sorted.
func (m *Module) TemplateKeys(name string) []string { return sortedKeys(m.templates[name]) }

// Field looks up a field descriptor.
func (m *Module) Field(name string) (FieldDecl, bool) {
	f, ok := m.fields[name]
	return f, ok
}

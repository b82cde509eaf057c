// Package aot persists compiled kernels and dispatch plans as named
// modules and loads them back without the authoring environment.
//
// A module is a set of files in a Store:
//
//	metadata.json          manifest: kernel signatures, fields, graph names
//	kernels/<name>.attrs   binary KernelContextAttributes
//	kernels/<name>.bin     backend artifact
//	templates/<name>/<key>.{attrs,bin}  template instances
//	graph_<name>.bin       serialized dispatch plan
//	graph_<name>.txt       one "kernel(args)" line per dispatch
//
// Kernel artifacts are produced and consumed by a KernelCodec, one per
// backend. The loader recomputes every kernel layout from its persisted
// signature and rejects the module unless it matches the stored
// attributes bit for bit.
package aot

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/model"
)

// KernelCodec converts compiled kernels to and from backend artifacts.
type KernelCodec interface {
	EncodeKernel(k model.AotKernel) ([]byte, error)
	DecodeKernel(name string, sig core.Signature, attrs *core.KernelContextAttributes, artifact []byte) (model.AotKernel, error)
}

// ModuleBuilder collects the contents of a module and writes it out.
type ModuleBuilder interface {
	AddKernel(name string, k model.Kernel) error
	AddKernelTemplate(name, key string, k model.Kernel) error
	AddField(name string, f FieldDecl) error
	AddGraph(name string, plan *model.CompiledGraph) error
	Dump(ctx context.Context, store Store) error
}

// Options configures builders and loaders.
type Options struct {
	Logger zerolog.Logger
	// Workers bounds concurrent kernel verification when loading.
	Workers int
}

// DefaultOptions provides a silent builder/loader with four workers.
func DefaultOptions() Options {
	return Options{Logger: zerolog.Nop(), Workers: 4}
}

func resolveOptions(opts *Options) Options {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

type builtKernel struct {
	sig      core.Signature
	attrs    *core.KernelContextAttributes
	artifact []byte
}

// Builder is the ModuleBuilder for any backend with a KernelCodec.
type Builder struct {
	name      string
	codec     KernelCodec
	log       zerolog.Logger
	kernels   map[string]builtKernel
	templates map[string]map[string]builtKernel
	fields    map[string]FieldDecl
	graphs    map[string]*model.CompiledGraph
}

var _ ModuleBuilder = (*Builder)(nil)

// NewBuilder creates a builder for the module called name.
func NewBuilder(name string, codec KernelCodec, opts *Options) *Builder {
	o := resolveOptions(opts)
	return &Builder{
		name:      name,
		codec:     codec,
		log:       o.Logger.With().Str("module", name).Logger(),
		kernels:   make(map[string]builtKernel),
		templates: make(map[string]map[string]builtKernel),
		fields:    make(map[string]FieldDecl),
		graphs:    make(map[string]*model.CompiledGraph),
	}
}

// AddKernel compiles k and registers it under name.
func (b *Builder) AddKernel(name string, k model.Kernel) error {
	if name == "" {
		return core.Errorf(core.ErrDeclaration, "kernel name is empty")
	}
	if _, ok := b.kernels[name]; ok {
		return core.Errorf(core.ErrDeclaration, "Kernel %s already exists", name)
	}
	bk, err := b.build(name, k)
	if err != nil {
		return err
	}
	b.kernels[name] = bk
	b.log.Debug().Str("kernel", name).Int("args_bytes", bk.attrs.ArgsBytes).Msg("kernel added")
	return nil
}

// AddKernelTemplate registers k as the instance key of the kernel
// template name. Instances of one template may have different signatures.
func (b *Builder) AddKernelTemplate(name, key string, k model.Kernel) error {
	if name == "" || strings.Contains(name, "/") {
		return core.Errorf(core.ErrDeclaration, "invalid template name %q", name)
	}
	if key == "" || key == "." || key == ".." || strings.Contains(key, "/") {
		return core.Errorf(core.ErrDeclaration, "template %s: invalid key %q", name, key)
	}
	if _, ok := b.templates[name][key]; ok {
		return core.Errorf(core.ErrDeclaration, "Kernel template %s[%s] already exists", name, key)
	}
	bk, err := b.build(name+"["+key+"]", k)
	if err != nil {
		return err
	}
	if b.templates[name] == nil {
		b.templates[name] = make(map[string]builtKernel)
	}
	b.templates[name][key] = bk
	b.log.Debug().Str("template", name).Str("key", key).Msg("kernel template instance added")
	return nil
}

func (b *Builder) build(name string, k model.Kernel) (builtKernel, error) {
	if k == nil {
		return builtKernel{}, core.Errorf(core.ErrDeclaration, "kernel %s is nil", name)
	}
	compiled, err := k.CompileToAOT()
	if err != nil {
		return builtKernel{}, core.Wrapf(core.ErrCompilation, err, "compile kernel %s", name)
	}
	sig := k.Signature()
	if err := core.VerifyLayout(sig, compiled.Attributes()); err != nil {
		return builtKernel{}, err
	}
	artifact, err := b.codec.EncodeKernel(compiled)
	if err != nil {
		return builtKernel{}, errors.WithMessagef(err, "encode kernel %s", name)
	}
	return builtKernel{sig: sig.Clone(), attrs: compiled.Attributes(), artifact: artifact}, nil
}

func (b *Builder) put(ctx context.Context, store Store, entry KernelEntry, k builtKernel) (KernelEntry, error) {
	attrs, err := core.EncodeAttributes(k.attrs)
	if err != nil {
		return entry, err
	}
	if err := store.Put(ctx, entry.Attrs, attrs); err != nil {
		return entry, err
	}
	if err := store.Put(ctx, entry.Artifact, k.artifact); err != nil {
		return entry, err
	}
	entry.Signature = k.sig
	entry.ArgsBytes = k.attrs.ArgsBytes
	entry.RetsBytes = k.attrs.RetsBytes
	return entry, nil
}

// AddField registers a field descriptor.
func (b *Builder) AddField(name string, f FieldDecl) error {
	if name == "" {
		return core.Errorf(core.ErrDeclaration, "field name is empty")
	}
	if _, ok := b.fields[name]; ok {
		return core.Errorf(core.ErrDeclaration, "Field %s already exists", name)
	}
	if err := f.validate(name); err != nil {
		return err
	}
	f.Shape = append([]int(nil), f.Shape...)
	b.fields[name] = f
	return nil
}

// AddGraph registers a compiled plan. Graph names are unique.
func (b *Builder) AddGraph(name string, plan *model.CompiledGraph) error {
	if name == "" {
		return core.Errorf(core.ErrDeclaration, "graph name is empty")
	}
	if _, ok := b.graphs[name]; ok {
		return core.Errorf(core.ErrDeclaration, "Graph %s already exists", name)
	}
	if plan == nil {
		return core.Errorf(core.ErrNotCompiled, "graph %s has no compiled plan", name)
	}
	if err := b.checkDispatches(name, plan, false); err != nil {
		return err
	}
	b.graphs[name] = plan
	return nil
}

// checkDispatches makes sure every dispatch of plan runs the kernel
// registered under its name: same layout and same artifact. Kernels not
// added yet are skipped unless requireAll is set.
func (b *Builder) checkDispatches(graphName string, plan *model.CompiledGraph, requireAll bool) error {
	for i, d := range plan.Dispatches {
		k, ok := b.kernels[d.KernelName]
		if !ok {
			if requireAll {
				return core.Errorf(core.ErrDeclaration, "graph %s dispatches kernel %s, which was not added", graphName, d.KernelName)
			}
			continue
		}
		if d.Kernel == nil {
			return core.Errorf(core.ErrNotCompiled, "graph %s dispatch %d (%s) has no compiled kernel", graphName, i, d.KernelName)
		}
		if !k.attrs.Equal(d.Kernel.Attributes()) {
			return core.Errorf(core.ErrDeclaration, "graph %s dispatch %d: kernel %s has a different layout than the kernel added under that name",
				graphName, i, d.KernelName)
		}
		artifact, err := b.codec.EncodeKernel(d.Kernel)
		if err != nil {
			return errors.WithMessagef(err, "encode kernel %s", d.KernelName)
		}
		if !bytes.Equal(artifact, k.artifact) {
			return core.Errorf(core.ErrDeclaration, "graph %s dispatch %d: kernel %s differs from the kernel added under that name",
				graphName, i, d.KernelName)
		}
	}
	return nil
}

// AddModule adds every kernel and compiled graph of m. A kernel already
// added under the same name is kept only if the graphs dispatch an
// identical kernel; otherwise AddModule fails.
func (b *Builder) AddModule(m *graph.Module) error {
	for _, name := range m.Names() {
		g, _ := m.Graph(name)
		for _, k := range g.Kernels() {
			if _, ok := b.kernels[k.Name()]; ok {
				continue
			}
			if err := b.AddKernel(k.Name(), k); err != nil {
				return err
			}
		}
		if err := b.AddGraph(name, g.Compiled()); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the module. Every kernel a graph dispatches must have been
// added.
func (b *Builder) Dump(ctx context.Context, store Store) error {
	m := &Manifest{Version: manifestVersion, Name: b.name, Kernels: []KernelEntry{}, Graphs: []string{}}

	for _, name := range sortedKeys(b.graphs) {
		if err := b.checkDispatches(name, b.graphs[name], true); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(b.kernels) {
		entry, err := b.put(ctx, store, KernelEntry{Name: name, Attrs: kernelAttrsKey(name), Artifact: kernelArtifactKey(name)}, b.kernels[name])
		if err != nil {
			return err
		}
		m.Kernels = append(m.Kernels, entry)
	}

	for _, name := range sortedKeys(b.templates) {
		tmpl := TemplateEntry{Name: name}
		for _, key := range sortedKeys(b.templates[name]) {
			entry, err := b.put(ctx, store, KernelEntry{
				Name:     name,
				Key:      key,
				Attrs:    templateAttrsKey(name, key),
				Artifact: templateArtifactKey(name, key),
			}, b.templates[name][key])
			if err != nil {
				return err
			}
			tmpl.Instances = append(tmpl.Instances, entry)
		}
		m.Templates = append(m.Templates, tmpl)
	}

	for _, name := range sortedKeys(b.fields) {
		m.Fields = append(m.Fields, FieldEntry{Name: name, FieldDecl: b.fields[name]})
	}

	for _, name := range sortedKeys(b.graphs) {
		plan := b.graphs[name]
		data, err := plan.Serialize()
		if err != nil {
			return errors.WithMessagef(err, "serialize graph %s", name)
		}
		if err := store.Put(ctx, graphKey(name), data); err != nil {
			return err
		}
		if err := store.Put(ctx, graphListingKey(name), []byte(plan.Listing())); err != nil {
			return err
		}
		m.Graphs = append(m.Graphs, name)
	}

	data, err := encodeManifest(m)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, ManifestKey, data); err != nil {
		return err
	}
	b.log.Info().Int("kernels", len(m.Kernels)).Int("graphs", len(m.Graphs)).Int("fields", len(m.Fields)).Msg("module dumped")
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

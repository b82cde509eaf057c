package aot

import (
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/sbl8/aotgraph/core"
)

const (
	// ManifestKey is the store key of the module manifest.
	ManifestKey     = "metadata.json"
	manifestVersion = 1
)

// FieldDecl describes a field the module expects to be allocated before
// any graph runs. Matrix fields set Rows and Cols; scalar fields set
// IsScalar and leave Shape empty.
type FieldDecl struct {
	DType    core.DataType `json:"dtype" yaml:"dtype"`
	Shape    []int         `json:"shape,omitempty" yaml:"shape,omitempty"`
	IsScalar bool          `json:"is_scalar" yaml:"is_scalar"`
	Rows     int           `json:"rows,omitempty" yaml:"rows,omitempty"`
	Cols     int           `json:"cols,omitempty" yaml:"cols,omitempty"`
}

func (f FieldDecl) validate(name string) error {
	if !f.DType.Valid() {
		return core.Errorf(core.ErrDeclaration, "field %s: invalid data type %s", name, f.DType)
	}
	if f.IsScalar && len(f.Shape) != 0 {
		return core.Errorf(core.ErrDeclaration, "field %s: scalar field with shape %v", name, f.Shape)
	}
	if f.Rows < 0 || f.Cols < 0 {
		return core.Errorf(core.ErrDeclaration, "field %s: negative matrix dimensions", name)
	}
	for _, d := range f.Shape {
		if d <= 0 {
			return core.Errorf(core.ErrDeclaration, "field %s: non-positive shape %v", name, f.Shape)
		}
	}
	return nil
}

// KernelEntry is the manifest record of one kernel. Template instances
// carry the template identifier as Name and their instantiation Key.
type KernelEntry struct {
	Name      string         `json:"name"`
	Key       string         `json:"key,omitempty"`
	Signature core.Signature `json:"signature"`
	// ArgsBytes and RetsBytes mirror the binary attributes for readers.
	ArgsBytes int    `json:"args_bytes"`
	RetsBytes int    `json:"rets_bytes"`
	Attrs     string `json:"attrs"`
	Artifact  string `json:"artifact"`
}

// FieldEntry is the manifest record of one field.
type FieldEntry struct {
	Name string `json:"name"`
	FieldDecl
}

// TemplateEntry is the manifest record of a kernel template: one
// compiled kernel per instantiation key.
type TemplateEntry struct {
	Name      string        `json:"name"`
	Instances []KernelEntry `json:"instances"`
}

// Manifest lists everything a module contains.
type Manifest struct {
	Version   int             `json:"version"`
	Name      string          `json:"name"`
	Kernels   []KernelEntry   `json:"kernels"`
	Templates []TemplateEntry `json:"templates,omitempty"`
	Fields    []FieldEntry    `json:"fields,omitempty"`
	Graphs    []string        `json:"graphs"`
}

func kernelAttrsKey(name string) string    { return "kernels/" + name + ".attrs" }
func kernelArtifactKey(name string) string { return "kernels/" + name + ".bin" }

func templateAttrsKey(name, key string) string    { return "templates/" + name + "/" + key + ".attrs" }
func templateArtifactKey(name, key string) string { return "templates/" + name + "/" + key + ".bin" }
func graphKey(name string) string          { return "graph_" + name + ".bin" }
func graphListingKey(name string) string   { return "graph_" + name + ".txt" }

func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := sonic.ConfigStd.MarshalIndent(m, "", "  ")
	return data, errors.Wrap(err, "encode manifest")
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := sonic.ConfigStd.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	if m.Version != manifestVersion {
		return nil, errors.Errorf("unsupported manifest version %d", m.Version)
	}
	return &m, nil
}

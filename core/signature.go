package core

// Limits of the extra region. Every array argument with index below
// MaxArgsExtra gets MaxNumIndices int32 extent slots.
const (
	MaxNumIndices = 8
	MaxArgsExtra  = 16

	// ExtraRegionBytes is reserved after the args region for implicit
	// array extents.
	ExtraRegionBytes = 4 * MaxNumIndices * MaxArgsExtra
)

// ArgDecl is one declared kernel parameter.
type ArgDecl struct {
	Name         string   `json:"name" yaml:"name"`
	DType        DataType `json:"dtype" yaml:"dtype"`
	IsArray      bool     `json:"is_array" yaml:"is_array"`
	FieldDim     int      `json:"field_dim,omitempty" yaml:"field_dim,omitempty"`
	ElementShape []int    `json:"element_shape,omitempty" yaml:"element_shape,omitempty"`
}

// RetDecl is one declared kernel return value. An array return is written
// inline into the rets region, ElementShape elements of DType.
type RetDecl struct {
	DType        DataType `json:"dtype" yaml:"dtype"`
	IsArray      bool     `json:"is_array" yaml:"is_array"`
	ElementShape []int    `json:"element_shape,omitempty" yaml:"element_shape,omitempty"`
}

// Signature is the declared argument and return list of a kernel.
type Signature struct {
	Args []ArgDecl `json:"args" yaml:"args"`
	Rets []RetDecl `json:"rets,omitempty" yaml:"rets,omitempty"`
}

// Validate rejects signatures the layout engine cannot place.
func (s Signature) Validate() error {
	for i, a := range s.Args {
		if !a.DType.Valid() {
			return declarationf("arg %d (%s): invalid data type %s", i, a.Name, a.DType)
		}
		if !a.IsArray {
			if len(a.ElementShape) != 0 {
				return declarationf("arg %d (%s): scalar argument with element shape %v", i, a.Name, a.ElementShape)
			}
			continue
		}
		if i >= MaxArgsExtra {
			return declarationf("arg %d (%s): array arguments are limited to the first %d positions", i, a.Name, MaxArgsExtra)
		}
		if a.FieldDim < 0 || a.FieldDim+len(a.ElementShape) > MaxNumIndices {
			return declarationf("arg %d (%s): %d dimensions exceed the limit of %d", i, a.Name, a.FieldDim+len(a.ElementShape), MaxNumIndices)
		}
		for _, d := range a.ElementShape {
			if d <= 0 {
				return declarationf("arg %d (%s): non-positive element shape %v", i, a.Name, a.ElementShape)
			}
		}
	}
	for i, r := range s.Rets {
		if !r.DType.Valid() {
			return declarationf("ret %d: invalid data type %s", i, r.DType)
		}
		if !r.IsArray && len(r.ElementShape) != 0 {
			return declarationf("ret %d: scalar return with element shape %v", i, r.ElementShape)
		}
		if len(r.ElementShape) > MaxNumIndices {
			return declarationf("ret %d: %d dimensions exceed the limit of %d", i, len(r.ElementShape), MaxNumIndices)
		}
		for _, d := range r.ElementShape {
			if d <= 0 {
				return declarationf("ret %d: non-positive element shape %v", i, r.ElementShape)
			}
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias cached signatures.
func (s Signature) Clone() Signature {
	out := Signature{
		Args: make([]ArgDecl, len(s.Args)),
		Rets: make([]RetDecl, len(s.Rets)),
	}
	for i, a := range s.Args {
		a.ElementShape = append([]int(nil), a.ElementShape...)
		out.Args[i] = a
	}
	for i, r := range s.Rets {
		r.ElementShape = append([]int(nil), r.ElementShape...)
		out.Rets[i] = r
	}
	return out
}

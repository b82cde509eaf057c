package core

// ArgAttributes is the placement of one argument in the args region.
type ArgAttributes struct {
	Index        int      `json:"index"`
	DType        DataType `json:"dtype"`
	IsArray      bool     `json:"is_array"`
	Offset       int      `json:"offset"`
	Stride       int      `json:"stride"`
	FieldDim     int      `json:"field_dim,omitempty"`
	ElementShape []int    `json:"element_shape,omitempty"`
}

// UnitSize is the number of bytes the argument occupies in the args region.
func (a ArgAttributes) UnitSize() int {
	if a.IsArray {
		return PointerSize
	}
	return a.DType.Size()
}

// RetAttributes is the placement of one return value in the rets region.
type RetAttributes struct {
	Index        int      `json:"index"`
	DType        DataType `json:"dtype"`
	IsArray      bool     `json:"is_array"`
	Offset       int      `json:"offset"`
	Stride       int      `json:"stride"`
	ElementShape []int    `json:"element_shape,omitempty"`
}

// UnitSize is the number of bytes the value occupies in the rets region.
// Array returns are stored inline, so this is their full packed size.
func (r RetAttributes) UnitSize() int {
	return r.Stride
}

// KernelContextAttributes is the packed byte layout of a kernel's
// arguments and return values. It is computed once per kernel and reused
// for every launch.
type KernelContextAttributes struct {
	Args       []ArgAttributes `json:"args"`
	Rets       []RetAttributes `json:"rets"`
	ArgsBytes  int             `json:"args_bytes"`
	RetsBytes  int             `json:"rets_bytes"`
	ExtraBytes int             `json:"extra_bytes"`
}

// HasRets reports whether the kernel declares any return value.
func (a *KernelContextAttributes) HasRets() bool {
	return len(a.Rets) > 0
}

// ContextBytes is the size of the args buffer handed to a launch: the args
// region followed by the extra region.
func (a *KernelContextAttributes) ContextBytes() int {
	return a.ArgsBytes + a.ExtraBytes
}

// ComputeLayout places every argument and return value of sig. It is a pure
// function of sig.
func ComputeLayout(sig Signature) (*KernelContextAttributes, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}

	attrs := &KernelContextAttributes{
		Args:       make([]ArgAttributes, len(sig.Args)),
		Rets:       make([]RetAttributes, len(sig.Rets)),
		ExtraBytes: ExtraRegionBytes,
	}

	cursor := 0
	for i, decl := range sig.Args {
		aa := ArgAttributes{
			Index:   i,
			DType:   decl.DType,
			IsArray: decl.IsArray,
			Stride:  decl.DType.Size(),
		}
		if decl.IsArray {
			aa.FieldDim = decl.FieldDim
			aa.ElementShape = append([]int(nil), decl.ElementShape...)
		}
		unit := aa.UnitSize()
		cursor = AlignUp(cursor, unit)
		aa.Offset = cursor
		cursor += unit
		attrs.Args[i] = aa
	}
	attrs.ArgsBytes = AlignUp(cursor, RegionAlign)

	cursor = 0
	for i, decl := range sig.Rets {
		ra := RetAttributes{
			Index:   i,
			DType:   decl.DType,
			IsArray: decl.IsArray,
			Stride:  decl.DType.Size(),
		}
		if decl.IsArray {
			ra.ElementShape = append([]int(nil), decl.ElementShape...)
			ra.Stride = NumElements(decl.ElementShape) * decl.DType.Size()
		}
		unit := ra.UnitSize()
		cursor = AlignUp(cursor, unit)
		ra.Offset = cursor
		cursor += unit
		attrs.Rets[i] = ra
	}
	attrs.RetsBytes = cursor

	if attrs.HasRets() != (attrs.RetsBytes > 0) {
		return nil, Errorf(ErrLayoutInconsistency, "%d declared returns but rets region is %d bytes", len(attrs.Rets), attrs.RetsBytes)
	}
	return attrs, nil
}

// Equal reports whether two layouts are bit-for-bit the same.
func (a *KernelContextAttributes) Equal(b *KernelContextAttributes) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ArgsBytes != b.ArgsBytes || a.RetsBytes != b.RetsBytes || a.ExtraBytes != b.ExtraBytes {
		return false
	}
	if len(a.Args) != len(b.Args) || len(a.Rets) != len(b.Rets) {
		return false
	}
	for i := range a.Args {
		x, y := a.Args[i], b.Args[i]
		if x.Index != y.Index || x.DType != y.DType || x.IsArray != y.IsArray ||
			x.Offset != y.Offset || x.Stride != y.Stride || x.FieldDim != y.FieldDim ||
			!ShapeEqual(x.ElementShape, y.ElementShape) {
			return false
		}
	}
	for i := range a.Rets {
		x, y := a.Rets[i], b.Rets[i]
		if x.Index != y.Index || x.DType != y.DType || x.IsArray != y.IsArray ||
			x.Offset != y.Offset || x.Stride != y.Stride ||
			!ShapeEqual(x.ElementShape, y.ElementShape) {
			return false
		}
	}
	return true
}

// VerifyLayout recomputes the layout of sig and checks it against attrs,
// typically attributes read back from a persisted module.
func VerifyLayout(sig Signature, attrs *KernelContextAttributes) error {
	fresh, err := ComputeLayout(sig)
	if err != nil {
		return err
	}
	if !fresh.Equal(attrs) {
		return Errorf(ErrLayoutInconsistency, "persisted layout (args=%d rets=%d) differs from recomputed layout (args=%d rets=%d)",
			attrsArgsBytes(attrs), attrsRetsBytes(attrs), fresh.ArgsBytes, fresh.RetsBytes)
	}
	return nil
}

func attrsArgsBytes(a *KernelContextAttributes) int {
	if a == nil {
		return -1
	}
	return a.ArgsBytes
}

func attrsRetsBytes(a *KernelContextAttributes) int {
	if a == nil {
		return -1
	}
	return a.RetsBytes
}

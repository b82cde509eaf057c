package model

import (
	"fmt"
	"strings"

	"github.com/sbl8/aotgraph/core"
)

// ArgKind distinguishes scalar parameters from array parameters.
type ArgKind uint8

const (
	Scalar ArgKind = iota
	Array
)

func (k ArgKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ArgKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ArgKind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "scalar", "":
		*k = Scalar
	case "array", "ndarray":
		*k = Array
	default:
		return fmt.Errorf("unknown arg kind %q", string(b))
	}
	return nil
}

// Arg is a symbolic parameter of a dispatch, bound to a value by name at
// run time. Args are values; copying one is safe.
type Arg struct {
	Name         string        `json:"name" yaml:"name"`
	Kind         ArgKind       `json:"kind" yaml:"kind"`
	DType        core.DataType `json:"dtype" yaml:"dtype"`
	ElementShape []int         `json:"element_shape,omitempty" yaml:"shape,omitempty"`
}

// ScalarArg declares a scalar parameter. Pass core.Unknown to leave the
// type to the kernel signature.
func ScalarArg(name string, dt core.DataType) Arg {
	return Arg{Name: name, Kind: Scalar, DType: dt}
}

// ArrayArg declares an array parameter whose bound value must have exactly shape.
func ArrayArg(name string, dt core.DataType, shape ...int) Arg {
	return Arg{Name: name, Kind: Array, DType: dt, ElementShape: append([]int(nil), shape...)}
}

// Named declares a parameter by name only, the loosest form: a scalar of
// unknown type.
func Named(name string) Arg {
	return ScalarArg(name, core.Unknown)
}

func (a Arg) String() string {
	if a.Kind == Array {
		return fmt.Sprintf("%s:%s%v", a.Name, a.DType, a.ElementShape)
	}
	return fmt.Sprintf("%s:%s", a.Name, a.DType)
}

func (a Arg) clone() Arg {
	a.ElementShape = append([]int(nil), a.ElementShape...)
	return a
}

// CloneArgs deep-copies an argument list.
func CloneArgs(args []Arg) []Arg {
	out := make([]Arg, len(args))
	for i, a := range args {
		out[i] = a.clone()
	}
	return out
}

// CheckArgs validates a dispatch's symbolic argument list against the
// signature of the kernel it targets.
func CheckArgs(kernel string, sig core.Signature, args []Arg) error {
	if len(args) != len(sig.Args) {
		return core.Errorf(core.ErrDeclaration, "kernel %s takes %d arguments, dispatch declares %d", kernel, len(sig.Args), len(args))
	}
	seen := make(map[string]int, len(args))
	for i, a := range args {
		if a.Name == "" {
			return core.Errorf(core.ErrDeclaration, "kernel %s: argument %d has no name", kernel, i)
		}
		if j, dup := seen[a.Name]; dup {
			return core.Errorf(core.ErrDeclaration, "kernel %s: duplicate argument name %q at positions %d and %d", kernel, a.Name, j, i)
		}
		seen[a.Name] = i

		decl := sig.Args[i]
		if (a.Kind == Array) != decl.IsArray {
			return core.Errorf(core.ErrDeclaration, "kernel %s: argument %q is %s but parameter %d is declared %s",
				kernel, a.Name, a.Kind, i, kindOf(decl.IsArray))
		}
		if a.DType != core.Unknown && a.DType != decl.DType {
			return core.Errorf(core.ErrDeclaration, "kernel %s: argument %q has type %s but parameter %d is %s",
				kernel, a.Name, a.DType, i, decl.DType)
		}
	}
	return nil
}

func kindOf(isArray bool) ArgKind {
	if isArray {
		return Array
	}
	return Scalar
}

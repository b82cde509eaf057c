// Package model defines the data shared by the compiler, the executor and
// the module builder: symbolic arguments, the kernel collaborator
// interfaces and the compiled dispatch plan.
//
// A CompiledGraph is the flattened, position-addressed execution plan
// produced from a symbolic graph. It is the unit that crosses the
// persistence boundary: Serialize/Deserialize carry the kernel names and
// symbolic arguments of every dispatch, while the compiled kernel handles
// are rebound by name when a module is loaded.
package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/sbl8/aotgraph/core"
)

// CompiledDispatch is one kernel invocation in a plan.
type CompiledDispatch struct {
	KernelName   string
	SymbolicArgs []Arg
	Kernel       AotKernel
}

// CompiledGraph is an ordered list of dispatches. Position in the list is
// the only scheduling guarantee.
type CompiledGraph struct {
	Dispatches []CompiledDispatch
}

// Len returns the number of dispatches in the plan.
func (g *CompiledGraph) Len() int {
	return len(g.Dispatches)
}

// KernelNames returns the distinct kernel names in first-use order.
func (g *CompiledGraph) KernelNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range g.Dispatches {
		if !seen[d.KernelName] {
			seen[d.KernelName] = true
			names = append(names, d.KernelName)
		}
	}
	return names
}

// Validate checks that every dispatch is bound to a kernel whose layout
// agrees with its symbolic arguments.
func (g *CompiledGraph) Validate() error {
	for i, d := range g.Dispatches {
		if d.Kernel == nil {
			return core.Errorf(core.ErrDeclaration, "dispatch %d (%s) has no compiled kernel", i, d.KernelName)
		}
		attrs := d.Kernel.Attributes()
		if len(attrs.Args) != len(d.SymbolicArgs) {
			return core.Errorf(core.ErrDeclaration, "dispatch %d (%s): kernel takes %d arguments, plan declares %d",
				i, d.KernelName, len(attrs.Args), len(d.SymbolicArgs))
		}
		for j, a := range d.SymbolicArgs {
			if (a.Kind == Array) != attrs.Args[j].IsArray {
				return core.Errorf(core.ErrDeclaration, "dispatch %d (%s): argument %q kind %s disagrees with kernel",
					i, d.KernelName, a.Name, a.Kind)
			}
		}
	}
	return nil
}

// Listing renders the plan one dispatch per line as "kernel(arg1, arg2)".
func (g *CompiledGraph) Listing() string {
	var sb strings.Builder
	for _, d := range g.Dispatches {
		names := make([]string, len(d.SymbolicArgs))
		for i, a := range d.SymbolicArgs {
			names[i] = a.Name
		}
		fmt.Fprintf(&sb, "%s(%s)\n", d.KernelName, strings.Join(names, ", "))
	}
	return sb.String()
}

const (
	planMagic   = 0x50544F41 // "AOTP"
	planVersion = 1
)

// Serialize writes the plan's kernel names and symbolic arguments in a
// little-endian binary form. Compiled kernel handles are not written.
func (g *CompiledGraph) Serialize() ([]byte, error) {
	var buf bytes.Buffer

	// Header: magic, version, dispatch count
	if err := binary.Write(&buf, binary.LittleEndian, uint32(planMagic)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(planVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(g.Dispatches))); err != nil {
		return nil, err
	}

	for _, d := range g.Dispatches {
		if err := writeString(&buf, d.KernelName); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(d.SymbolicArgs))); err != nil {
			return nil, err
		}
		for _, a := range d.SymbolicArgs {
			if err := writeArg(&buf, a); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// Deserialize reads a plan written by Serialize. The returned dispatches
// have no compiled kernel bound.
func Deserialize(data []byte) (*CompiledGraph, error) {
	buf := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(buf, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != planMagic {
		return nil, fmt.Errorf("invalid magic number: %x", magic)
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != planVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	var count uint32
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if int64(count) > int64(buf.Len()) {
		return nil, fmt.Errorf("dispatch count %d exceeds data size", count)
	}

	g := &CompiledGraph{Dispatches: make([]CompiledDispatch, count)}
	for i := range g.Dispatches {
		name, err := readString(buf)
		if err != nil {
			return nil, err
		}
		var nargs uint16
		if err := binary.Read(buf, binary.LittleEndian, &nargs); err != nil {
			return nil, err
		}
		args := make([]Arg, nargs)
		for j := range args {
			if args[j], err = readArg(buf); err != nil {
				return nil, err
			}
		}
		g.Dispatches[i] = CompiledDispatch{KernelName: name, SymbolicArgs: args}
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after plan", buf.Len())
	}

	return g, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("string of %d bytes is too long", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// arg: [name][kind u8][dtype u32][ndim u8][dims i32*]
func writeArg(w io.Writer, a Arg) error {
	if err := writeString(w, a.Name); err != nil {
		return err
	}
	if len(a.ElementShape) > 0xFF {
		return fmt.Errorf("argument %q has too many dimensions", a.Name)
	}
	fields := []interface{}{
		uint8(a.Kind),
		uint32(a.DType),
		uint8(len(a.ElementShape)),
	}
	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	for _, d := range a.ElementShape {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return err
		}
	}
	return nil
}

func readArg(r io.Reader) (Arg, error) {
	var a Arg
	var err error
	if a.Name, err = readString(r); err != nil {
		return a, err
	}
	var kind, ndim uint8
	var dtype uint32
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return a, err
	}
	if err := binary.Read(r, binary.LittleEndian, &dtype); err != nil {
		return a, err
	}
	if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
		return a, err
	}
	if ArgKind(kind) != Scalar && ArgKind(kind) != Array {
		return a, fmt.Errorf("argument %q: invalid kind %d", a.Name, kind)
	}
	a.Kind = ArgKind(kind)
	a.DType = core.DataType(dtype)
	if ndim > 0 {
		dims := make([]int32, ndim)
		if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
			return a, err
		}
		a.ElementShape = make([]int, ndim)
		for i, d := range dims {
			a.ElementShape[i] = int(d)
		}
	}
	return a, nil
}

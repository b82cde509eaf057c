package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/runtime"
)

// binding is one parsed name=value argument. Arrays keep their ndarray so
// the caller can print it after the run.
type binding struct {
	name  string
	value runtime.IValue
	array *kernels.Ndarray
}

// parseBinding parses "name=dtype:value" for scalars and
// "name=dtype[d0,d1,...]:v0,v1,..." for arrays. An array without values
// is zero filled.
func parseBinding(dev *kernels.Device, s string) (binding, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return binding{}, fmt.Errorf("argument %q: want name=value", s)
	}
	typ, vals, _ := strings.Cut(rest, ":")

	dims, isArray := "", false
	if i := strings.IndexByte(typ, '['); i >= 0 {
		if !strings.HasSuffix(typ, "]") {
			return binding{}, fmt.Errorf("argument %s: unterminated shape in %q", name, typ)
		}
		typ, dims, isArray = typ[:i], typ[i+1:len(typ)-1], true
	}
	dt, err := core.ParseDataType(typ)
	if err != nil || dt == core.Unknown {
		return binding{}, fmt.Errorf("argument %s: bad data type %q", name, typ)
	}

	if !isArray {
		if vals == "" {
			return binding{}, fmt.Errorf("argument %s: scalar without value", name)
		}
		v, err := parseScalar(dt, vals)
		if err != nil {
			return binding{}, fmt.Errorf("argument %s: %w", name, err)
		}
		return binding{name: name, value: v}, nil
	}

	shape, err := parseInts(dims)
	if err != nil {
		return binding{}, fmt.Errorf("argument %s: shape: %w", name, err)
	}
	arr, err := kernels.NewNdarray(dev, dt, shape...)
	if err != nil {
		return binding{}, fmt.Errorf("argument %s: %w", name, err)
	}
	if vals != "" {
		fields := strings.Split(vals, ",")
		if len(fields) != arr.Len() {
			arr.Release()
			return binding{}, fmt.Errorf("argument %s: %d values for %d elements", name, len(fields), arr.Len())
		}
		view := arr.View()
		for i, f := range fields {
			if err := setElement(view, i, strings.TrimSpace(f)); err != nil {
				arr.Release()
				return binding{}, fmt.Errorf("argument %s[%d]: %w", name, i, err)
			}
		}
	}
	return binding{name: name, value: runtime.Array(arr), array: arr}, nil
}

func parseScalar(dt core.DataType, s string) (runtime.IValue, error) {
	s = strings.TrimSpace(s)
	if dt.IsFloat() {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		switch dt {
		case core.F16:
			return runtime.F16(float32(f)), nil
		case core.F32:
			return runtime.F32(float32(f)), nil
		}
		return runtime.F64(f), nil
	}
	if dt.IsSigned() {
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, err
		}
		return runtime.Int(n), nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, err
	}
	return runtime.Uint(n), nil
}

func setElement(v kernels.View, i int, s string) error {
	if v.DType.IsFloat() {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		v.SetFloat(i, f)
		return nil
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return err
	}
	v.SetInt(i, n)
	return nil
}

func parseInts(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty shape")
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// formatArray renders an array as "name dtype[shape] = [v0 v1 ...]".
func formatArray(name string, a *kernels.Ndarray) string {
	view := a.View()
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s%v = [", name, a.DType(), a.Shape())
	for i := range view.Len() {
		if i > 0 {
			b.WriteByte(' ')
		}
		if view.DType.IsFloat() {
			b.WriteString(strconv.FormatFloat(view.Float(i), 'g', -1, 64))
		} else {
			b.WriteString(strconv.FormatInt(view.Int(i), 10))
		}
	}
	b.WriteByte(']')
	return b.String()
}

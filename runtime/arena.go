package runtime

import (
	"fmt"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/model"
)

// ArenaRegion represents a distinct memory region within the Arena.
type ArenaRegion struct {
	Offset int
	Size   int
	Name   string
}

// Arena is one pre-allocated buffer holding the launch contexts of every
// dispatch in a plan. Each dispatch gets a cache-line aligned args region
// and rets region; regions are zeroed when a context is taken.
type Arena struct {
	buffer  []byte
	regions map[string]ArenaRegion
	args    []ArenaRegion // by dispatch index
	rets    []ArenaRegion // by dispatch index
	offset  int           // bump allocator cursor
}

// NewArena sizes an arena for plan. Every dispatch must have a compiled kernel.
func NewArena(plan *model.CompiledGraph) (*Arena, error) {
	total := 0
	for i, d := range plan.Dispatches {
		if d.Kernel == nil {
			return nil, fmt.Errorf("dispatch %d (%s) has no compiled kernel", i, d.KernelName)
		}
		attrs := d.Kernel.Attributes()
		total += core.AlignCacheLine(attrs.ContextBytes()) + core.AlignCacheLine(attrs.RetsBytes)
	}

	a := &Arena{
		buffer:  core.AlignedBytes(total),
		regions: make(map[string]ArenaRegion, 2*len(plan.Dispatches)),
		args:    make([]ArenaRegion, len(plan.Dispatches)),
		rets:    make([]ArenaRegion, len(plan.Dispatches)),
	}
	for i, d := range plan.Dispatches {
		attrs := d.Kernel.Attributes()
		args, err := a.allocate(fmt.Sprintf("dispatch/%d/args", i), attrs.ContextBytes())
		if err != nil {
			return nil, err
		}
		rets, err := a.allocate(fmt.Sprintf("dispatch/%d/rets", i), attrs.RetsBytes)
		if err != nil {
			return nil, err
		}
		a.args[i], a.rets[i] = args, rets
	}
	return a, nil
}

func (a *Arena) allocate(name string, size int) (ArenaRegion, error) {
	aligned := core.AlignCacheLine(size)
	if a.offset+aligned > len(a.buffer) {
		return ArenaRegion{}, fmt.Errorf("arena exhausted: need %d bytes at offset %d, have %d", aligned, a.offset, len(a.buffer))
	}
	r := ArenaRegion{Offset: a.offset, Size: size, Name: name}
	a.regions[name] = r
	a.offset += aligned
	return r, nil
}

// Region looks up a region by name.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	r, ok := a.regions[name]
	return r, ok
}

// Context returns a zeroed launch context for dispatch i over the arena.
func (a *Arena) Context(i int, attrs *core.KernelContextAttributes) (*core.LaunchContext, error) {
	if i < 0 || i >= len(a.args) {
		return nil, fmt.Errorf("dispatch index %d out of range [0, %d)", i, len(a.args))
	}
	args, rets := a.args[i], a.rets[i]
	if args.Size < attrs.ContextBytes() || rets.Size < attrs.RetsBytes {
		return nil, fmt.Errorf("dispatch %d: arena regions smaller than kernel layout", i)
	}
	return core.NewLaunchContextIn(attrs,
		a.buffer[args.Offset:args.Offset+args.Size],
		a.buffer[rets.Offset:rets.Offset+rets.Size]), nil
}

// TotalSize returns the arena size in bytes.
func (a *Arena) TotalSize() int {
	return len(a.buffer)
}

// UsedSize returns the bytes handed out to regions.
func (a *Arena) UsedSize() int {
	return a.offset
}

// Package runtime executes compiled dispatch plans.
//
// The Executor walks a model.CompiledGraph in plan order. For every
// dispatch it takes a zeroed launch context sized by the kernel's
// KernelContextAttributes, resolves each symbolic argument against the
// caller's name -> IValue mapping, validates kind and shape, writes the
// value into its slot and launches the compiled kernel.
//
// Execution model:
//  1. Validate and bind the arguments of dispatch i
//  2. Launch dispatch i (submission only, no device synchronization)
//  3. Repeat for i+1; the first binding error aborts the run
//
// Dispatches launched before an error are not rolled back.
package runtime

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/model"
)

// LaunchHook observes each dispatch right after its kernel was launched,
// e.g. to read return values out of ctx.
type LaunchHook func(index int, d *model.CompiledDispatch, ctx *core.LaunchContext)

// Options configures an Executor.
type Options struct {
	Logger zerolog.Logger
	Hook   LaunchHook
}

// DefaultOptions provides a silent executor without hooks.
func DefaultOptions() Options {
	return Options{Logger: zerolog.Nop()}
}

// Stats are counters owned by one Executor.
type Stats struct {
	Runs           int64
	FailedRuns     int64
	Launches       int64
	KernelLaunches map[string]int64
}

// Executor runs compiled plans. Runs on one Executor are serialized.
type Executor struct {
	opts  Options
	log   zerolog.Logger
	mu    sync.Mutex
	stats Stats

	// arena is reused while the same plan is run repeatedly
	arena     *Arena
	arenaPlan *model.CompiledGraph
}

// NewExecutor creates an executor. A nil opts means DefaultOptions.
func NewExecutor(opts *Options) *Executor {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	return &Executor{
		opts:  o,
		log:   o.Logger.With().Str("component", "executor").Logger(),
		stats: Stats{KernelLaunches: make(map[string]int64)},
	}
}

// Run launches every dispatch of plan in order with args bound by name.
func (e *Executor) Run(plan *model.CompiledGraph, args map[string]IValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if plan == nil {
		return core.Errorf(core.ErrNotCompiled, "no compiled plan")
	}
	e.stats.Runs++

	arena, err := e.arenaFor(plan)
	if err != nil {
		e.stats.FailedRuns++
		return errors.WithMessage(err, "prepare launch contexts")
	}

	for i := range plan.Dispatches {
		d := &plan.Dispatches[i]
		ctx, err := arena.Context(i, d.Kernel.Attributes())
		if err != nil {
			e.stats.FailedRuns++
			return err
		}
		if err := bindArgs(ctx, d, args); err != nil {
			e.stats.FailedRuns++
			e.log.Debug().Int("dispatch", i).Str("kernel", d.KernelName).Err(err).Msg("argument binding failed")
			return err
		}
		if err := d.Kernel.Launch(ctx); err != nil {
			e.stats.FailedRuns++
			return errors.WithMessagef(err, "launch dispatch %d (%s)", i, d.KernelName)
		}
		e.stats.Launches++
		e.stats.KernelLaunches[d.KernelName]++
		e.log.Trace().Int("dispatch", i).Str("kernel", d.KernelName).Msg("launched")
		if e.opts.Hook != nil {
			e.opts.Hook(i, d, ctx)
		}
	}

	e.log.Debug().Int("dispatches", len(plan.Dispatches)).Msg("run complete")
	return nil
}

func (e *Executor) arenaFor(plan *model.CompiledGraph) (*Arena, error) {
	if e.arena != nil && e.arenaPlan == plan {
		return e.arena, nil
	}
	arena, err := NewArena(plan)
	if err != nil {
		return nil, err
	}
	e.arena, e.arenaPlan = arena, plan
	return arena, nil
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.KernelLaunches = make(map[string]int64, len(e.stats.KernelLaunches))
	for k, v := range e.stats.KernelLaunches {
		s.KernelLaunches[k] = v
	}
	return s
}

// bindArgs resolves the symbolic arguments of d against args and writes
// them into ctx at their parameter index.
func bindArgs(ctx *core.LaunchContext, d *model.CompiledDispatch, args map[string]IValue) error {
	attrs := ctx.Attributes()
	for i, sym := range d.SymbolicArgs {
		val, ok := args[sym.Name]
		if !ok || val == nil {
			return core.Errorf(core.ErrMissingArgument, "kernel %s: no runtime value for %q", d.KernelName, sym.Name)
		}

		switch v := val.(type) {
		case ArrayRef:
			if v.Array == nil {
				return core.Errorf(core.ErrMissingArgument, "kernel %s: nil array bound to %q", d.KernelName, sym.Name)
			}
			if err := checkArray(d.KernelName, sym, v.Array.Shape()); err != nil {
				return err
			}
			want := sym.DType
			if want == core.Unknown {
				want = attrs.Args[i].DType
			}
			if elem := v.Array.DType(); elem != core.Unknown && elem != want {
				return core.Errorf(core.ErrTypeMismatch, "kernel %s: argument %q expects %s elements, got %s",
					d.KernelName, sym.Name, want, elem)
			}
			h := core.ArrayHandle{Alloc: v.Array.Allocation(), Bytes: v.Array.ByteSize(), Shape: v.Array.Shape()}
			if err := ctx.SetArray(i, h); err != nil {
				return core.Wrapf(core.ErrShapeMismatch, err, "kernel %s: argument %q", d.KernelName, sym.Name)
			}
		case DeviceBufferRef:
			if err := checkArray(d.KernelName, sym, v.Shape); err != nil {
				return err
			}
			h := core.ArrayHandle{Alloc: v.Alloc, Bytes: v.Size, Shape: v.Shape}
			if err := ctx.SetArray(i, h); err != nil {
				return core.Wrapf(core.ErrShapeMismatch, err, "kernel %s: argument %q", d.KernelName, sym.Name)
			}
		case ScalarValue:
			if sym.Kind != model.Scalar {
				return core.Errorf(core.ErrTypeMismatch, "kernel %s: argument %q requires an array, got a scalar",
					d.KernelName, sym.Name)
			}
			bits := core.ConvertBits(v.DType, v.Bits, attrs.Args[i].DType)
			if err := ctx.SetScalar(i, bits); err != nil {
				return core.Wrapf(core.ErrTypeMismatch, err, "kernel %s: argument %q", d.KernelName, sym.Name)
			}
		default:
			return core.Errorf(core.ErrTypeMismatch, "kernel %s: unsupported value %T for %q", d.KernelName, val, sym.Name)
		}
	}
	return nil
}

func checkArray(kernel string, sym model.Arg, shape []int) error {
	if sym.Kind != model.Array || !core.ShapeEqual(sym.ElementShape, shape) {
		return core.Errorf(core.ErrShapeMismatch, "kernel %s: argument %q declared %s%v, bound array has shape %v",
			kernel, sym.Name, sym.Kind, sym.ElementShape, shape)
	}
	return nil
}

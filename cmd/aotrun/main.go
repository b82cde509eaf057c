// Command aotrun loads an AOT module and runs one of its graphs.
//
// Arguments are bound by name:
//
//	aotrun demo pipeline 'x=f32[4]:1,2,3,4' factor=f32:0.5
//
// Array arguments are printed after the run, followed by the scalar
// return values of every dispatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/sbl8/aotgraph/aot"
	"github.com/sbl8/aotgraph/config"
	"github.com/sbl8/aotgraph/core"
	"github.com/sbl8/aotgraph/graph"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/logging"
	"github.com/sbl8/aotgraph/model"
	aotruntime "github.com/sbl8/aotgraph/runtime"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Environment file read before the process environment")
		iter    = flag.Int("iter", 1, "Number of runs; timing is reported when greater than one")
		device  = flag.Uint("device", 0, "Host device id")
		verbose = flag.Bool("verbose", false, "Report executor statistics")
		version = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("aotrun - AOT graph runtime v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 2 || *iter < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <module> <graph> [name=value ...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(args[0], args[1], args[2:], *envFile, *iter, uint32(*device), *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

type retValue struct {
	kernel string
	index  int
	dtype  core.DataType
	bits   uint64
}

func run(module, graphName string, bindings []string, envFile string, iter int, device uint32, verbose bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, closer, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := context.Background()
	store, closeFn, err := cfg.OpenStore(ctx, module)
	if err != nil {
		return err
	}
	defer closeFn()

	dev := kernels.NewDevice(device)
	be := kernels.NewBackend(dev, nil)
	loadOpts := cfg.AOT(aot.Options{Logger: log})
	loaded, err := aot.Load(ctx, store, be, &loadOpts)
	if err != nil {
		return err
	}

	var rets []retValue
	hook := func(i int, d *model.CompiledDispatch, lc *core.LaunchContext) {
		if i == 0 {
			rets = rets[:0]
		}
		for j, ra := range lc.Attributes().Rets {
			if ra.IsArray {
				continue
			}
			bits, err := lc.RetBits(j)
			if err != nil {
				continue
			}
			rets = append(rets, retValue{kernel: d.KernelName, index: j, dtype: ra.DType, bits: bits})
		}
	}
	g, err := loaded.Graph(graphName, &graph.Options{Logger: log, Hook: hook})
	if err != nil {
		return err
	}

	values := make(map[string]aotruntime.IValue, len(bindings))
	var arrays []binding
	for _, s := range bindings {
		b, err := parseBinding(dev, s)
		if err != nil {
			return err
		}
		values[b.name] = b.value
		if b.array != nil {
			arrays = append(arrays, b)
		}
	}
	defer func() {
		for _, b := range arrays {
			b.array.Release()
		}
	}()

	start := time.Now()
	for range iter {
		if err := g.Run(values); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	for _, b := range arrays {
		fmt.Println(formatArray(b.name, b.array))
	}
	for _, r := range rets {
		fmt.Printf("%s.ret%d %s = %s\n", r.kernel, r.index, r.dtype, formatScalar(r.dtype, r.bits))
	}

	if iter > 1 {
		fmt.Printf("%d runs in %v (%.2f runs/s)\n", iter, elapsed, float64(iter)/elapsed.Seconds())
	}
	if verbose {
		st := g.Stats()
		fmt.Printf("runs=%d failed=%d launches=%d\n", st.Runs, st.FailedRuns, st.Launches)
		for _, name := range g.Compiled().KernelNames() {
			fmt.Printf("  %-20s %d\n", name, st.KernelLaunches[name])
		}
	}
	return nil
}

func formatScalar(dt core.DataType, bits uint64) string {
	if dt.IsFloat() {
		return strconv.FormatFloat(core.BitsToFloat(dt, bits), 'g', -1, 64)
	}
	return strconv.FormatInt(core.BitsToInt(dt, bits), 10)
}

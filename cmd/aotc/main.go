// Command aotc compiles a YAML graph description into an AOT module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/sbl8/aotgraph/compiler"
	"github.com/sbl8/aotgraph/config"
	"github.com/sbl8/aotgraph/kernels"
	"github.com/sbl8/aotgraph/logging"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Environment file read before the process environment")
		listing = flag.Bool("list", false, "Log the dispatch listing of every graph")
		device  = flag.Uint("device", 0, "Host device id")
		version = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("aotc - AOT graph compiler v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <module.yaml>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(args[0], *envFile, *listing, uint32(*device)); err != nil {
		fmt.Fprintf(os.Stderr, "compilation failed: %v\n", err)
		os.Exit(1)
	}
}

func run(src, envFile string, listing bool, device uint32) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, closer, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer closer.Close()

	d, err := compiler.LoadDescription(src)
	if err != nil {
		return err
	}
	be := kernels.NewBackend(kernels.NewDevice(device), nil)
	b, _, err := compiler.Build(d, be, compiler.CompileOptions{Logger: log, Listing: listing})
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, closeFn, err := cfg.OpenStore(ctx, d.Module)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := b.Dump(ctx, store); err != nil {
		return err
	}
	log.Info().Str("source", src).Str("module", d.Module).Str("store", cfg.Store).Msg("compiled")
	return nil
}

// Package aotgraph implements ahead-of-time compiled compute-kernel graphs.
//
// A graph is built symbolically from kernel dispatches and nested
// sequences, compiled once into a flat dispatch plan, and executed any
// number of times against caller-owned arrays and scalars bound by name.
// Compiled plans can be persisted as modules and loaded back without the
// authoring environment.
//
// # Architecture Overview
//
// The engine consists of several key components:
//
//   - Layout: every kernel signature maps to a packed byte layout
//     (KernelContextAttributes) shared by the compiler and the launcher
//   - Graph: a tree of dispatch and sequential nodes flattened in pre-order
//   - Executor: binds arguments by name, validates them and launches each
//     dispatch in plan order
//   - Modules: kernels, fields and plans written to a directory or Redis
//
// # Basic Usage
//
//	// Compile a module description
//	aotc examples/demo.yaml
//
//	// Load and run one of its graphs
//	aotrun demo pipeline 'x=f32[4]:1,2,3,4' factor=f32:0.5
//
// From Go:
//
//	be := kernels.NewBackend(kernels.NewDevice(0), nil)
//	k, _ := be.Kernel("square", "sqr_plus_x")
//	g := graph.New("pipeline", nil)
//	g.Emplace(k, model.ArrayArg("x", core.F32, 4))
//	if err := g.Compile(); err != nil {
//	    log.Fatal(err)
//	}
//	err := g.Run(map[string]runtime.IValue{"x": runtime.Array(arr)})
//
// # Package Structure
//
//   - core: data types, signatures, context layout and launch contexts
//   - model: symbolic arguments, kernel interfaces and dispatch plans
//   - graph: graph construction, compilation and named graph collections
//   - runtime: the executor, its arena and runtime values
//   - kernels: the host backend, its op catalog and ndarrays
//   - aot: module stores, builder and loader
//   - compiler: YAML module descriptions
//   - config, logging: process configuration for the CLIs
//   - cmd: Command-line tools (aotc, aotrun)
package aotgraph

// Package starbridge lets Starlark scripts import the packages and classes
// of a host object system as if they were native modules, and runs those
// scripts in isolated interpreter instances that can share selected modules.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	starbridge/
//	├── runtime/         Interpreter instances, script and native modules, lifecycle hooks
//	├── importer/        Module table and ordered finder chain of one instance
//	├── javaimport/      Host packages and classes projected as Starlark values
//	├── shared/          Registry of modules imported once and bound into workers
//	├── host/            Host enquirer contract, class index, class path scanning
//	│   └── wasmhost/    WebAssembly modules exposed as host packages (wazero)
//	├── config/          YAML configuration and runtime construction
//	├── errors/          Structured error types
//	└── cmd/run/         Command line runner and interactive prompt
//
// # Quick Start
//
//	rt, err := runtime.New(ctx,
//	    runtime.WithHost(host.Compose(idx, idx)),
//	    runtime.WithSharedModules("numpy"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	w, err := rt.NewWorker(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close(ctx)
//
//	_, err = w.Exec(ctx, "job.star", `load("java.util", "ArrayList")`)
//
// # Resolution Order
//
// Every instance resolves a dotted name through its module table first and
// then through its finder chain: shared modules, host packages, native
// modules and finally script modules on the include path.
package starbridge

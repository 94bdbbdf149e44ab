// Package runtime runs Starlark interpreter instances that can import
// packages and classes of a host object system, script modules from an
// include path, and Go-native modules.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx := host.NewIndex()
//	idx.AddClass(host.ClassHandle{Name: "java.util.ArrayList"})
//
//	rt, err := runtime.New(ctx,
//	    runtime.WithHost(host.Compose(idx, idx)),
//	    runtime.WithIncludePaths("./lib"),
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
//	_, err = w.Exec(ctx, "job.star", `
//	load("java.util", "ArrayList")
//	load("numpy", "array")
//	print(ArrayList.name)
//	`)
//
// # Instances
//
// The main instance is created with the runtime. Workers are created with
// NewWorker, each with its own module table, globals and finder chain:
//
//  1. shared module resolver (workers only, when modules are shared)
//  2. host package resolver (when a host is configured)
//  3. script finder: native modules, then include paths
//
// NewSharedWorker creates an instance that imports through the main
// instance's module table and chain instead. Every module it loads is the
// main instance's value; only its globals are its own.
//
// # Importing
//
// Scripts import with load, using dotted names or include-path relative
// file names:
//
//	load("java.util", "ArrayList", "HashMap")
//	load("lib/util.star", "helper")
//	load("lib.util", "helper")
//
// import_module returns a module value itself:
//
//	util = import_module("java.util")
//	print(dir(util))
//
// A host package loaded with load resolves only the requested members.
// dir and hasattr on a package never trigger class loading.
//
// # Shared Modules
//
// Modules under an allow-listed prefix are imported once, into the main
// instance, and the identical module values are bound into each worker.
// When a worker closes, its shared bindings are removed before its module
// table is discarded. Shared module values are frozen; mutating one from a
// worker fails unless the module itself supports it.
//
// # Lifecycle Hooks
//
// Hooks observe worker creation and teardown:
//
//	runtime.WithHook(runtime.HookFuncs{
//	    Destroy: func(ctx context.Context, w *runtime.Interpreter) error {
//	        log.Printf("%s closed", w.Name())
//	        return nil
//	    },
//	})
package runtime

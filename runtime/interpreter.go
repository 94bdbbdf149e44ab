package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/importer"
	"github.com/wippyai/starbridge/javaimport"
	"github.com/wippyai/starbridge/shared"
)

// Kind distinguishes the main instance from workers.
type Kind int

const (
	KindMain Kind = iota
	KindWorker
	// KindShared instances use the main instance's module table and finder
	// chain but keep their own globals.
	KindShared
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindShared:
		return "shared"
	}
	return "worker"
}

const (
	contextKey = "starbridge.context"
	loadsKey   = "starbridge.loads"
)

// Interpreter is one isolated interpreter instance with its own module
// table, finder chain and globals. An Interpreter is meant to be driven by
// one goroutine; its methods are serialized so lifecycle hooks and the
// shared-module registry may reach it from others.
type Interpreter struct {
	rt          *Runtime
	im          *importer.Importer
	java        *javaimport.Resolver
	shared      *shared.Resolver
	globals     starlark.StringDict
	predeclared starlark.StringDict
	print       func(msg string)
	loading     []string
	steps       uint64
	id          int64
	kind        Kind
	mu          sync.Mutex
	closed      bool
}

func newInterpreter(rt *Runtime, id int64, kind Kind) *Interpreter {
	i := &Interpreter{
		rt:      rt,
		im:      importer.New(),
		id:      id,
		kind:    kind,
		globals: make(starlark.StringDict),
	}

	argv := rt.opts.workerArgv
	if kind == KindMain {
		argv = rt.opts.sharedArgv
	}
	args := make(starlark.Tuple, len(argv))
	for n, a := range argv {
		args[n] = starlark.String(a)
	}

	i.predeclared = starlark.StringDict{
		"import_module": starlark.NewBuiltin("import_module", i.importModule),
		"struct":        starlark.NewBuiltin("struct", starlarkstruct.Make),
		"argv":          args,
	}
	i.predeclared.Freeze()
	for k, v := range i.predeclared {
		i.globals[k] = v
	}

	i.print = rt.defaultPrint(i)

	if kind == KindShared {
		// the main chain already carries the host resolver; it is set up once
		i.im = rt.main.im
		i.java = rt.main.java
		return i
	}

	// chain order: shared modules, host packages, then script and native modules
	i.im.Chain.Append(&scriptFinder{i: i})
	if rt.opts.host != nil {
		i.java = javaimport.NewResolver(rt.opts.host, i.im.Table)
		i.java.Install(i.im.Chain)
	}
	if kind == KindWorker && rt.registry != nil {
		i.shared = shared.NewResolver(rt.registry, i.im.Table)
		i.shared.Install(i.im.Chain)
	}
	return i
}

// ID returns the instance ID. The main instance has ID 0.
func (i *Interpreter) ID() int64 { return i.id }

// Kind reports whether the instance is the main instance or a worker.
func (i *Interpreter) Kind() Kind { return i.kind }

// Name returns a display name such as "main" or "worker-3".
func (i *Interpreter) Name() string {
	if i.kind == KindMain {
		return "main"
	}
	return fmt.Sprintf("%s-%d", i.kind, i.id)
}

// Table returns the instance's module table.
func (i *Interpreter) Table() *importer.Table { return i.im.Table }

// Chain returns the instance's finder chain.
func (i *Interpreter) Chain() *importer.Chain { return i.im.Chain }

// JavaResolver returns the host package resolver, or nil without a host.
func (i *Interpreter) JavaResolver() *javaimport.Resolver { return i.java }

// SharedResolver returns the shared module resolver, or nil for the main
// instance and runtimes without shared modules.
func (i *Interpreter) SharedResolver() *shared.Resolver { return i.shared }

// SetPrint replaces the function receiving print output.
func (i *Interpreter) SetPrint(fn func(msg string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.print = fn
}

// Import returns the module value for a dotted name.
func (i *Interpreter) Import(ctx context.Context, name string) (starlark.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.importLocked(ctx, name)
}

func (i *Interpreter) importLocked(ctx context.Context, name string) (starlark.Value, error) {
	if i.closed {
		return nil, errors.Closed(errors.PhaseLifecycle, i.Name())
	}
	if name == "" || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return nil, errors.InvalidInput(errors.PhaseResolve, fmt.Sprintf("invalid module name %q", name))
	}
	if i.kind == KindShared {
		// modules load in the main instance, one import at a time
		m := i.rt.main
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, errors.Closed(errors.PhaseLifecycle, m.Name())
		}
	}
	return i.im.Import(ctx, name)
}

// Exec runs a script as the instance's top-level program. Its globals are
// merged into the instance globals and returned.
func (i *Interpreter) Exec(ctx context.Context, filename string, src any) (starlark.StringDict, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.Closed(errors.PhaseLifecycle, i.Name())
	}

	predeclared := make(starlark.StringDict, len(i.globals))
	for k, v := range i.globals {
		predeclared[k] = v
	}

	f, prog, err := starlark.SourceProgramOptions(fileOptions(), filename, src, predeclared.Has)
	if err != nil {
		return nil, errors.ParseFailed(filename, err)
	}

	globals, err := i.run(ctx, i.Name(), f, func(thread *starlark.Thread) (starlark.StringDict, error) {
		return prog.Init(thread, predeclared)
	})
	for k, v := range globals {
		i.globals[k] = v
	}
	if err != nil {
		return globals, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Detail("exec %s", filename).
			Cause(err).
			Build()
	}
	return globals, nil
}

// Run executes one chunk of interactive input. An expression is evaluated
// and its value returned; statements run against the instance globals and
// return None.
func (i *Interpreter) Run(ctx context.Context, src string) (starlark.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.Closed(errors.PhaseLifecycle, i.Name())
	}

	opts := fileOptions()
	if expr, err := opts.ParseExpr("<input>", src, 0); err == nil {
		var v starlark.Value
		_, err := i.run(ctx, i.Name(), nil, func(thread *starlark.Thread) (starlark.StringDict, error) {
			var err error
			v, err = starlark.EvalExprOptions(opts, thread, expr, i.globals)
			return nil, err
		})
		if err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "eval")
		}
		return v, nil
	}

	f, err := opts.Parse("<input>", src, 0)
	if err != nil {
		return nil, errors.ParseFailed("input", err)
	}
	if _, err := i.run(ctx, i.Name(), f, func(thread *starlark.Thread) (starlark.StringDict, error) {
		return nil, starlark.ExecREPLChunk(f, thread, i.globals)
	}); err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "exec")
	}
	return starlark.None, nil
}

// Eval evaluates an expression against the instance globals.
func (i *Interpreter) Eval(ctx context.Context, expr string) (starlark.Value, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.Closed(errors.PhaseLifecycle, i.Name())
	}

	var v starlark.Value
	_, err := i.run(ctx, i.Name(), nil, func(thread *starlark.Thread) (starlark.StringDict, error) {
		var err error
		v, err = starlark.EvalOptions(fileOptions(), thread, "<eval>", expr, i.globals)
		return nil, err
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "eval "+expr)
	}
	return v, nil
}

// Get returns an instance global.
func (i *Interpreter) Get(name string) (starlark.Value, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.globals[name]
	return v, ok
}

// Set binds an instance global.
func (i *Interpreter) Set(name string, v starlark.Value) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.globals[name] = v
}

// Globals returns a copy of the instance globals.
func (i *Interpreter) Globals() starlark.StringDict {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(starlark.StringDict, len(i.globals))
	for k, v := range i.globals {
		out[k] = v
	}
	return out
}

// Modules returns the names in the module table, sorted.
func (i *Interpreter) Modules() []string {
	return i.im.Table.Names()
}

// Closed reports whether the instance has been closed.
func (i *Interpreter) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Close tears the instance down. For workers the destroy hooks run first,
// so shared modules are unbound before the module table is discarded.
// Close is idempotent. The main instance is closed by Runtime.Close.
func (i *Interpreter) Close(ctx context.Context) error {
	if i.kind == KindMain {
		return nil
	}
	return i.rt.closeWorker(ctx, i)
}

// teardown must be called after the destroy hooks ran.
func (i *Interpreter) teardown() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	if i.kind != KindShared {
		i.im.Table.Clear()
	}
	i.globals = nil
}

// run executes fn on a fresh thread carrying ctx. A cancelled thread
// cannot be reused, so every run gets its own.
func (i *Interpreter) run(ctx context.Context, name string, f *syntax.File, fn func(*starlark.Thread) (starlark.StringDict, error)) (starlark.StringDict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	thread := i.newThread(name)
	thread.SetLocal(contextKey, ctx)
	if f != nil {
		thread.SetLocal(loadsKey, loadRequests(f))
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()
	globals, err := fn(thread)
	i.steps += thread.ExecutionSteps()
	return globals, err
}

// Steps returns the number of Starlark computation steps executed by the
// instance so far.
func (i *Interpreter) Steps() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.steps
}

func (i *Interpreter) newThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Load: i.load,
		Print: func(_ *starlark.Thread, msg string) {
			i.print(msg)
		},
	}
}

// load implements starlark.Thread.Load. Script modules export their
// globals. For any other value, only the names requested by the load
// statements of the executing file are resolved, so loading one class from
// a host package never populates the rest of it.
func (i *Interpreter) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	ctx := contextOf(thread)
	name := moduleName(module)

	v, err := i.importLocked(ctx, name)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(*Module); ok {
		return m.exports(), nil
	}

	ha, ok := v.(starlark.HasAttrs)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseLoad,
			fmt.Sprintf("%s is a %s and has no members to load", name, v.Type()))
	}

	requested := requestedNames(thread, module)
	if requested == nil {
		requested = ha.AttrNames()
	}
	out := make(starlark.StringDict, len(requested))
	for _, n := range requested {
		av, err := ha.Attr(n)
		if err != nil {
			return nil, err
		}
		if av != nil {
			out[n] = av
		}
	}
	return out, nil
}

// importModule implements the import_module builtin.
func (i *Interpreter) importModule(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	return i.importLocked(contextOf(thread), name)
}

func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

func contextOf(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// loadRequests maps each module named by a load statement in f to the
// names the statement takes from it.
func loadRequests(f *syntax.File) map[string][]string {
	req := make(map[string][]string)
	for _, stmt := range f.Stmts {
		ls, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		module, _ := ls.Module.Value.(string)
		for _, id := range ls.From {
			req[module] = append(req[module], id.Name)
		}
	}
	return req
}

func requestedNames(thread *starlark.Thread, module string) []string {
	req, ok := thread.Local(loadsKey).(map[string][]string)
	if !ok {
		return nil
	}
	return req[module]
}

// moduleName accepts dotted names and include-path relative file names:
// "lib/util.star" and "lib.util" name the same module.
func moduleName(module string) string {
	if !strings.HasSuffix(module, ".star") && !strings.Contains(module, "/") {
		return module
	}
	name := strings.TrimSuffix(module, ".star")
	name = strings.TrimPrefix(name, "./")
	return strings.ReplaceAll(name, "/", ".")
}

func (rt *Runtime) defaultPrint(i *Interpreter) func(string) {
	if rt.opts.redirectOutput {
		return func(msg string) {
			Logger().Info(msg, zap.String("instance", i.Name()))
		}
	}
	out := rt.opts.output
	return func(msg string) {
		rt.outMu.Lock()
		defer rt.outMu.Unlock()
		fmt.Fprintln(out, msg)
	}
}

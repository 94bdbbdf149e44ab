package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/shared"
)

// writeTree creates files under a temp dir; names use forward slashes and a
// trailing slash creates an empty directory.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), append([]Option{WithOutput(&bytes.Buffer{})}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func newWorker(t *testing.T, rt *Runtime) *Interpreter {
	t.Helper()
	w, err := rt.NewWorker(context.Background())
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return w
}

// countingNative returns a native loader that counts its invocations.
func countingNative(calls *atomic.Int64) NativeLoader {
	return func(*starlark.Thread, string) (starlark.Value, error) {
		n := calls.Add(1)
		return &starlarkstruct.Module{
			Name:    "counter",
			Members: starlark.StringDict{"n": starlark.MakeInt64(n)},
		}, nil
	}
}

func testHost() host.Host {
	x := host.NewIndex()
	x.AddClass(host.ClassHandle{Name: "java.util.ArrayList", Source: "rt.jar"})
	x.AddClass(host.ClassHandle{Name: "java.util.HashMap", Source: "rt.jar"})
	x.AddClass(host.ClassHandle{Name: "java.lang.String", Source: "rt.jar"})
	return host.Compose(x, x)
}

func TestExecRunEval(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	main := rt.Main()

	globals, err := main.Exec(ctx, "t.star", "x = 1 + 2\ndef double(v):\n    return v * 2\n")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if got := globals["x"]; got != starlark.MakeInt(3) {
		t.Errorf("x = %v, want 3", got)
	}

	v, err := main.Run(ctx, "double(x)")
	if err != nil {
		t.Fatalf("Run expr: %v", err)
	}
	if v != starlark.MakeInt(6) {
		t.Errorf("double(x) = %v, want 6", v)
	}

	v, err = main.Run(ctx, "y = double(5)")
	if err != nil {
		t.Fatalf("Run stmt: %v", err)
	}
	if v != starlark.None {
		t.Errorf("statement returned %v, want None", v)
	}
	if y, ok := main.Get("y"); !ok || y != starlark.MakeInt(10) {
		t.Errorf("y = %v, %v", y, ok)
	}

	v, err = main.Eval(ctx, "len(argv)")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != starlark.MakeInt(0) {
		t.Errorf("len(argv) = %v, want 0", v)
	}
	if main.Steps() == 0 {
		t.Error("Steps() = 0 after execution")
	}

	if _, err := main.Exec(ctx, "bad.star", "def ("); err == nil {
		t.Error("expected parse error")
	} else if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseParse, Kind: errors.KindInvalidData}) {
		t.Errorf("parse error = %v", err)
	}
}

func TestScriptModules(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string]string{
		"lib/util.star":     "def helper():\n    return 42\n_private = 1\n",
		"pkg/__init__.star": "version = '1.0'\n",
		"pkg/sub.star":      "load('pkg', 'version')\nv = version\n",
		"ns/leaf.star":      "value = 'leaf'\n",
	})
	rt := newRuntime(t, WithIncludePaths(dir))
	main := rt.Main()

	t.Run("load by file name and dotted name", func(t *testing.T) {
		globals, err := main.Exec(ctx, "a.star", `
load("lib/util.star", "helper")
load("lib.util", h2 = "helper")
a = helper()
same = helper == h2
`)
		if err != nil {
			t.Fatalf("Exec: %v", err)
		}
		if globals["a"] != starlark.MakeInt(42) {
			t.Errorf("a = %v", globals["a"])
		}
		if globals["same"] != starlark.True {
			t.Error("file and dotted names loaded different modules")
		}
	})

	t.Run("identity", func(t *testing.T) {
		a, err := main.Import(ctx, "lib.util")
		if err != nil {
			t.Fatal(err)
		}
		b, err := main.Import(ctx, "lib.util")
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Error("repeated import returned a different module")
		}
		m := a.(*Module)
		if m.Owner() != 0 || !strings.HasSuffix(m.Path(), filepath.Join("lib", "util.star")) {
			t.Errorf("module = %v owner %d", m, m.Owner())
		}
		if _, ok := m.exports()["_private"]; ok {
			t.Error("private global exported")
		}
	})

	t.Run("package init and submodule", func(t *testing.T) {
		v, err := main.Import(ctx, "pkg.sub")
		if err != nil {
			t.Fatal(err)
		}
		if got, _ := v.(*Module).Attr("v"); got != starlark.String("1.0") {
			t.Errorf("pkg.sub.v = %v", got)
		}
		parent, _ := main.Import(ctx, "pkg")
		if sub, _ := parent.(*Module).Attr("sub"); sub != v {
			t.Error("submodule not bound on its parent")
		}
	})

	t.Run("namespace module", func(t *testing.T) {
		v, err := main.Import(ctx, "ns.leaf")
		if err != nil {
			t.Fatal(err)
		}
		ns, err := main.Import(ctx, "ns")
		if err != nil {
			t.Fatal(err)
		}
		if ns.(*Module).Path() != "" {
			t.Errorf("namespace path = %q", ns.(*Module).Path())
		}
		if leaf, _ := ns.(*Module).Attr("leaf"); leaf != v {
			t.Error("leaf not bound on namespace module")
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, err := main.Import(ctx, "lib.nothing")
		if !errors.IsNotFound(err) {
			t.Errorf("err = %v, want not found", err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		for _, name := range []string{"", ".lib", "lib.", "lib..util"} {
			if _, err := main.Import(ctx, name); err == nil {
				t.Errorf("Import(%q) succeeded", name)
			}
		}
	})
}

func TestImportCycle(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.star": "load('b', 'y')\nx = 1\n",
		"b.star": "load('a', 'x')\ny = 1\n",
	})
	rt := newRuntime(t, WithIncludePaths(dir))

	_, err := rt.Main().Import(context.Background(), "a")
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindCycle}) {
		t.Fatalf("err = %v, want cycle", err)
	}
	var e *errors.Error
	found := false
	for cause := error(err); cause != nil; cause = stderrors.Unwrap(cause) {
		if stderrors.As(cause, &e) && e.Kind == errors.KindCycle {
			found = true
			if chain, _ := e.Value.([]string); strings.Join(chain, ",") != "a,b,a" {
				t.Errorf("cycle chain = %v", e.Value)
			}
			break
		}
	}
	if !found {
		t.Error("cycle error not in chain")
	}
	if rt.Main().Table().Len() != 0 {
		t.Errorf("failed imports left entries: %v", rt.Main().Modules())
	}
}

func TestNestedMissingImport(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a.star": "load('nope', 'x')\n",
	})
	rt := newRuntime(t, WithIncludePaths(dir))

	_, err := rt.Main().Import(context.Background(), "a")
	if err == nil {
		t.Fatal("import succeeded")
	}
	if errors.IsMissing(err, "a") {
		t.Errorf("err = %v, module reported as missing", err)
	}
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindLoadFailed}) {
		t.Errorf("err = %v, want load failure", err)
	}
	if !errors.IsNotFound(err) || !strings.Contains(err.Error(), `"nope"`) {
		t.Errorf("err = %v, want cause naming nope", err)
	}
	if _, ok := rt.Main().Table().Get("a"); ok {
		t.Error("failed module left in table")
	}
}

func TestSharedModuleFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string]string{
		"m/__init__.star": "print('init m', argv[0])\nimport_module('cfg_' + argv[0])\n",
		"cfg_worker.star": "x = 1\n",
	})
	var out bytes.Buffer
	rt := newRuntime(t,
		WithOutput(&out),
		WithIncludePaths(dir),
		WithSharedModules("m"),
		WithSharedArgv("main"),
		WithWorkerArgv("worker"),
	)

	for range 2 {
		w := newWorker(t, rt)
		_, err := w.Import(ctx, "m")
		if err == nil {
			t.Fatalf("%s imported a shared module the main instance failed to load", w.Name())
		}
		if errors.IsMissing(err, "m") {
			t.Errorf("err = %v, reported as missing", err)
		}
		if !strings.Contains(err.Error(), "cfg_main") {
			t.Errorf("err = %v, want cause naming cfg_main", err)
		}
		if _, ok := w.Table().Get("m"); ok {
			t.Errorf("%s has m bound", w.Name())
		}
	}

	if strings.Contains(out.String(), "init m worker") {
		t.Errorf("a worker initialized m itself:\n%s", out.String())
	}
	if n := strings.Count(out.String(), "init m main"); n != 2 {
		t.Errorf("main attempted m %d times, want 2", n)
	}
	if s := rt.Registry().State("m"); s != shared.StateUnloaded {
		t.Errorf("registry state = %v, want unloaded", s)
	}
}

func TestNativeModules(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	rt := newRuntime(t, WithNativeModule("counter", countingNative(&calls)))
	main := rt.Main()

	globals, err := main.Exec(ctx, "n.star", `
load("json", "encode", "decode")
load("math", "sqrt")
load("counter", "n")
s = encode({"a": 1})
r = sqrt(16)
`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if globals["s"] != starlark.String(`{"a":1}`) {
		t.Errorf("s = %v", globals["s"])
	}
	if globals["r"] != starlark.Float(4) {
		t.Errorf("r = %v", globals["r"])
	}
	if globals["n"] != starlark.MakeInt(1) {
		t.Errorf("n = %v", globals["n"])
	}

	w1 := newWorker(t, rt)
	w2 := newWorker(t, rt)
	a, err := w1.Import(ctx, "counter")
	if err != nil {
		t.Fatal(err)
	}
	b, err := w2.Import(ctx, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("unshared native module was shared")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("native loader calls = %d, want 3", got)
	}
}

func TestHostPackages(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, WithHost(testHost()))
	w := newWorker(t, rt)

	globals, err := w.Exec(ctx, "j.star", `
load("java.util", "ArrayList")
name = ArrayList.name
util = import_module("java.util")
same = util == import_module("java.util")
has = hasattr(util, "HashMap")
`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if globals["name"] != starlark.String("java.util.ArrayList") {
		t.Errorf("name = %v", globals["name"])
	}
	if globals["same"] != starlark.True {
		t.Error("package import is not stable")
	}
	if globals["has"] != starlark.True {
		t.Error("hasattr(util, 'HashMap') = False")
	}

	if _, err := w.Exec(ctx, "m.star", `load("java.util", "Missing")`); err == nil {
		t.Error("loading a missing class succeeded")
	}
	if w.JavaResolver() == nil {
		t.Error("JavaResolver() = nil with a host configured")
	}
}

func TestSharedModules(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string]string{
		"numpy/__init__.star": "load('numpy.core', 'zeros')\nsize = len(argv)\nshape = [1, 2]\n",
		"numpy/core.star":     "def zeros(n):\n    return [0] * n\n",
		"local.star":          "value = 1\n",
	})
	var calls atomic.Int64
	rt := newRuntime(t,
		WithIncludePaths(dir),
		WithSharedModules("numpy", "counter"),
		WithNativeModule("counter", countingNative(&calls)),
		WithSharedArgv("main", "x"),
		WithWorkerArgv("worker"),
	)

	const workers = 8
	ws := make([]*Interpreter, workers)
	for n := range ws {
		ws[n] = newWorker(t, rt)
	}

	values := make([]starlark.Value, workers)
	counters := make([]starlark.Value, workers)
	var wg sync.WaitGroup
	for n, w := range ws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := w.Import(ctx, "numpy")
			if err != nil {
				t.Errorf("%s: %v", w.Name(), err)
				return
			}
			values[n] = v
			c, err := w.Import(ctx, "counter")
			if err != nil {
				t.Errorf("%s: %v", w.Name(), err)
				return
			}
			counters[n] = c
		}()
	}
	wg.Wait()

	for n := 1; n < workers; n++ {
		if values[n] != values[0] {
			t.Fatalf("worker %d got a different numpy module", n)
		}
		if counters[n] != counters[0] {
			t.Fatalf("worker %d got a different counter module", n)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("shared native loaded %d times, want 1", got)
	}

	np := values[0].(*Module)
	if np.Owner() != 0 {
		t.Errorf("shared module owner = %d, want main", np.Owner())
	}
	if size, _ := np.Attr("size"); size != starlark.MakeInt(2) {
		t.Errorf("shared module saw argv of len %v, want 2", size)
	}
	if core, _ := np.Attr("core"); core == nil {
		t.Error("numpy.core not attached to numpy")
	}
	if rt.Registry().State("numpy.core") != shared.StateLoaded {
		t.Error("numpy.core not committed with its prefix")
	}

	w := ws[0]
	if v, ok := w.Table().Get("numpy.core"); !ok || v == nil {
		t.Error("numpy.core not bound into the worker")
	}
	v, err := w.Eval(ctx, "len(argv)")
	if err != nil || v != starlark.MakeInt(1) {
		t.Errorf("worker argv len = %v, %v", v, err)
	}

	a, _ := ws[0].Import(ctx, "local")
	b, _ := ws[1].Import(ctx, "local")
	if a == nil || a == b {
		t.Error("non-shared module identical across workers")
	}
	if a.(*Module).Owner() != ws[0].ID() {
		t.Errorf("local owner = %d, want %d", a.(*Module).Owner(), ws[0].ID())
	}

	if _, err := w.Exec(ctx, "mut.star", "load('numpy', 'shape')\nshape.append(3)\n"); err == nil {
		t.Error("mutating a frozen shared value succeeded")
	}
}

func TestSharedWorkers(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string]string{
		"util.star": "print('init util')\ngreeting = 'hi'\n",
	})
	var out bytes.Buffer
	rt := newRuntime(t, WithOutput(&out), WithIncludePaths(dir), WithHost(testHost()))
	main := rt.Main()

	const n = 4
	ws := make([]*Interpreter, n)
	for k := range ws {
		w, err := rt.NewSharedWorker(ctx)
		if err != nil {
			t.Fatalf("NewSharedWorker: %v", err)
		}
		ws[k] = w
	}
	if ws[0].Kind() != KindShared || ws[0].Name() != "shared-1" {
		t.Errorf("kind/name = %v/%s", ws[0].Kind(), ws[0].Name())
	}

	var wg sync.WaitGroup
	for k, w := range ws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := fmt.Sprintf("load('util', 'greeting')\nload('java.util', 'ArrayList')\nx = %d\n", k)
			if _, err := w.Exec(ctx, "s.star", src); err != nil {
				t.Errorf("%s: %v", w.Name(), err)
			}
		}()
	}
	wg.Wait()

	if c := strings.Count(out.String(), "init util"); c != 1 {
		t.Errorf("util initialized %d times, want 1", c)
	}
	util, err := main.Import(ctx, "util")
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := main.Import(ctx, "java.util")
	if err != nil {
		t.Fatal(err)
	}
	if util.(*Module).Owner() != 0 {
		t.Errorf("util owner = %d, want main", util.(*Module).Owner())
	}

	for k, w := range ws {
		if v, _ := w.Import(ctx, "util"); v != util {
			t.Errorf("%s: util differs from main's", w.Name())
		}
		if v, _ := w.Import(ctx, "java.util"); v != pkg {
			t.Errorf("%s: java.util differs from main's", w.Name())
		}
		if x, _ := w.Get("x"); x != starlark.MakeInt(k) {
			t.Errorf("%s: x = %v, want %d", w.Name(), x, k)
		}
	}
	if _, ok := main.Get("x"); ok {
		t.Error("shared worker globals leaked into main")
	}

	if err := ws[0].Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := main.Table().Get("util"); !ok {
		t.Error("closing a shared worker cleared the main table")
	}
	if _, err := ws[0].Import(ctx, "util"); !errors.IsClosed(err) {
		t.Errorf("import after close = %v, want closed", err)
	}
}

func TestWorkerTeardown(t *testing.T) {
	ctx := context.Background()
	var seen []string
	var order []string
	rt := newRuntime(t,
		WithSharedModules("counter"),
		WithNativeModule("counter", countingNative(new(atomic.Int64))),
		WithHook(HookFuncs{
			Create: func(_ context.Context, w *Interpreter) error {
				order = append(order, "create "+w.Name())
				return nil
			},
			Destroy: func(_ context.Context, w *Interpreter) error {
				seen = w.Table().Names()
				order = append(order, "destroy "+w.Name())
				return nil
			},
		}),
	)

	w := newWorker(t, rt)
	if _, err := w.Import(ctx, "counter"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if strings.Join(seen, ",") != "counter" {
		t.Errorf("user hook saw %v, want shared bindings still present", seen)
	}
	if strings.Join(order, ";") != "create worker-1;destroy worker-1" {
		t.Errorf("hook order = %v", order)
	}
	if got := w.SharedResolver().Unbind(); strings.Join(got, ",") != "counter" {
		t.Errorf("unbound = %v", got)
	}
	if w.Table().Len() != 0 {
		t.Errorf("table not cleared: %v", w.Modules())
	}
	if _, err := w.Import(ctx, "counter"); !errors.IsClosed(err) {
		t.Errorf("import after close = %v, want closed", err)
	}
	if len(rt.Workers()) != 0 {
		t.Errorf("Workers() = %d after close", len(rt.Workers()))
	}
	if rt.Registry().State("counter") != shared.StateLoaded {
		t.Error("worker teardown unloaded the shared module")
	}
}

func TestWorkerCreateFailure(t *testing.T) {
	var destroyed []string
	boom := stderrors.New("boom")
	rt := newRuntime(t,
		WithHook(HookFuncs{
			Destroy: func(_ context.Context, w *Interpreter) error {
				destroyed = append(destroyed, "first")
				return nil
			},
		}),
		WithHook(HookFuncs{
			Create: func(context.Context, *Interpreter) error { return boom },
		}),
	)

	w, err := rt.NewWorker(context.Background())
	if w != nil || !stderrors.Is(err, boom) {
		t.Fatalf("NewWorker = %v, %v", w, err)
	}
	if strings.Join(destroyed, ",") != "first" {
		t.Errorf("unwound hooks = %v", destroyed)
	}
	if len(rt.Workers()) != 0 {
		t.Error("failed worker registered")
	}
}

func TestEagerStrategy(t *testing.T) {
	var calls atomic.Int64
	rt := newRuntime(t,
		WithSharedModules("counter"),
		WithStrategy(shared.StrategyEager),
		WithNativeModule("counter", countingNative(&calls)),
	)
	if calls.Load() != 1 {
		t.Fatalf("eager runtime loaded counter %d times", calls.Load())
	}
	w := newWorker(t, rt)
	if _, ok := w.Table().Get("counter"); !ok {
		t.Error("eager worker created without shared binding")
	}

	_, err := New(context.Background(),
		WithSharedModules("absent"),
		WithStrategy(shared.StrategyEager))
	if err == nil {
		t.Error("eager runtime with an unloadable shared module succeeded")
	}
}

func TestPrintAndCancel(t *testing.T) {
	var buf bytes.Buffer
	rt := newRuntime(t, WithOutput(&buf))
	w := newWorker(t, rt)

	if _, err := w.Exec(context.Background(), "p.star", `print("hello", 1)`); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello 1\n" {
		t.Errorf("output = %q", buf.String())
	}

	var got []string
	w.SetPrint(func(msg string) { got = append(got, msg) })
	if _, err := w.Run(context.Background(), `print("again")`); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "again" {
		t.Errorf("SetPrint captured %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := w.Exec(ctx, "loop.star", "while True:\n    pass\n"); err == nil {
		t.Error("cancelled execution succeeded")
	}
	if _, err := w.Eval(context.Background(), "1 + 1"); err != nil {
		t.Errorf("instance unusable after cancellation: %v", err)
	}
}

func TestRuntimeClose(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	w := newWorker(t, rt)
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !w.Closed() || !rt.Main().Closed() {
		t.Error("instances still open after runtime close")
	}
	if _, err := rt.NewWorker(ctx); !errors.IsClosed(err) {
		t.Errorf("NewWorker after close = %v", err)
	}
	if _, err := rt.Main().Exec(ctx, "x.star", "x = 1"); !errors.IsClosed(err) {
		t.Errorf("Exec after close = %v", err)
	}
}

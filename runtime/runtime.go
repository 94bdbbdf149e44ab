package runtime

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/shared"
)

// Runtime owns one main interpreter instance, any number of workers, and
// the registry of modules shared between them.
type Runtime struct {
	opts     *options
	main     *Interpreter
	registry *shared.Registry
	workers  map[int64]*Interpreter
	hooks    []Hook
	nextID   atomic.Int64
	mu       sync.RWMutex
	outMu    sync.Mutex
	closed   bool
}

var _ shared.MainImporter = (*Runtime)(nil)

// New creates a runtime and its main instance. With the eager strategy the
// shared allow-list is imported into the main instance before New returns.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	rt := &Runtime{
		opts:    o,
		workers: make(map[int64]*Interpreter),
	}
	if len(o.sharedModules) > 0 {
		rt.registry = shared.NewRegistry(rt, o.strategy, o.sharedModules...)
		rt.hooks = append(rt.hooks, sharedHook{})
	}
	rt.hooks = append(rt.hooks, o.hooks...)
	rt.main = newInterpreter(rt, 0, KindMain)

	if rt.registry != nil && o.strategy == shared.StrategyEager {
		if err := rt.registry.Prepopulate(ctx); err != nil {
			rt.main.teardown()
			return nil, err
		}
	}

	Logger().Debug("runtime created",
		zap.Strings("include_paths", o.includePaths),
		zap.Strings("shared", o.sharedModules),
		zap.Stringer("strategy", o.strategy),
		zap.Bool("host", o.host != nil))
	return rt, nil
}

// Main returns the main instance.
func (rt *Runtime) Main() *Interpreter { return rt.main }

// Registry returns the shared module registry, or nil when no modules are
// shared.
func (rt *Runtime) Registry() *shared.Registry { return rt.registry }

// NewWorker creates a worker instance and runs the create hooks. If a hook
// fails, the hooks that already ran are unwound and the worker discarded.
func (rt *Runtime) NewWorker(ctx context.Context) (*Interpreter, error) {
	return rt.newWorker(ctx, KindWorker)
}

// NewSharedWorker creates an instance that imports through the main
// instance: every module it loads lives in the main module table and is
// identical to the main instance's, while its globals stay its own. The
// shared-module allow-list does not apply to it. Hooks run as for NewWorker.
func (rt *Runtime) NewSharedWorker(ctx context.Context) (*Interpreter, error) {
	return rt.newWorker(ctx, KindShared)
}

func (rt *Runtime) newWorker(ctx context.Context, kind Kind) (*Interpreter, error) {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil, errors.Closed(errors.PhaseLifecycle, "runtime")
	}
	w := newInterpreter(rt, rt.nextID.Add(1), kind)
	rt.workers[w.id] = w
	rt.mu.Unlock()

	for n, h := range rt.hooks {
		if err := h.OnWorkerCreate(ctx, w); err != nil {
			err = multierr.Append(
				errors.New(errors.PhaseLifecycle, errors.KindLoadFailed).
					Detail("create %s", w.Name()).
					Cause(err).
					Build(),
				rt.destroy(ctx, w, rt.hooks[:n]))
			rt.mu.Lock()
			delete(rt.workers, w.id)
			rt.mu.Unlock()
			w.teardown()
			return nil, err
		}
	}

	Logger().Debug("worker created", zap.String("worker", w.Name()))
	return w, nil
}

// Workers returns the live workers ordered by ID.
func (rt *Runtime) Workers() []*Interpreter {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Interpreter, 0, len(rt.workers))
	for _, w := range rt.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].id < out[b].id })
	return out
}

func (rt *Runtime) closeWorker(ctx context.Context, w *Interpreter) error {
	rt.mu.Lock()
	if _, ok := rt.workers[w.id]; !ok {
		rt.mu.Unlock()
		return nil
	}
	delete(rt.workers, w.id)
	rt.mu.Unlock()

	err := rt.destroy(ctx, w, rt.hooks)
	w.teardown()
	Logger().Debug("worker closed", zap.String("worker", w.Name()), zap.Error(err))
	return err
}

// destroy runs the destroy step of hooks in reverse order. Every hook runs
// even when an earlier one fails.
func (rt *Runtime) destroy(ctx context.Context, w *Interpreter, hooks []Hook) error {
	var errs error
	for n := len(hooks) - 1; n >= 0; n-- {
		errs = multierr.Append(errs, hooks[n].OnWorkerDestroy(ctx, w))
	}
	return errs
}

// Close closes every worker and then the main instance. Close is idempotent.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	var errs error
	for _, w := range rt.Workers() {
		errs = multierr.Append(errs, rt.closeWorker(ctx, w))
	}
	rt.main.teardown()
	return errs
}

// ImportIntoMain imports name into the main instance. Shared modules are
// always loaded here, so their code runs with the main instance's globals
// and argv.
func (rt *Runtime) ImportIntoMain(ctx context.Context, name string) error {
	_, err := rt.main.Import(ctx, name)
	return err
}

// SnapshotMain returns the main instance's module table.
func (rt *Runtime) SnapshotMain() map[string]starlark.Value {
	return rt.main.im.Table.Snapshot()
}

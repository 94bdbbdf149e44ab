package runtime

import (
	"context"
)

// Hook observes worker lifecycle. OnWorkerCreate hooks run in registration
// order after the worker's finder chain is installed; OnWorkerDestroy hooks
// run in reverse order before its module table is discarded.
type Hook interface {
	OnWorkerCreate(ctx context.Context, w *Interpreter) error
	OnWorkerDestroy(ctx context.Context, w *Interpreter) error
}

// HookFuncs adapts a pair of functions to Hook. Nil fields are skipped.
type HookFuncs struct {
	Create  func(ctx context.Context, w *Interpreter) error
	Destroy func(ctx context.Context, w *Interpreter) error
}

func (h HookFuncs) OnWorkerCreate(ctx context.Context, w *Interpreter) error {
	if h.Create == nil {
		return nil
	}
	return h.Create(ctx, w)
}

func (h HookFuncs) OnWorkerDestroy(ctx context.Context, w *Interpreter) error {
	if h.Destroy == nil {
		return nil
	}
	return h.Destroy(ctx, w)
}

// sharedHook binds shared modules on creation (eager strategy) and unbinds
// them on teardown. It is registered first, so its destroy step runs last.
type sharedHook struct{}

func (sharedHook) OnWorkerCreate(ctx context.Context, w *Interpreter) error {
	if w.shared == nil {
		return nil
	}
	return w.shared.Prepare(ctx)
}

func (sharedHook) OnWorkerDestroy(_ context.Context, w *Interpreter) error {
	if w.shared == nil {
		return nil
	}
	w.shared.Unbind()
	return nil
}

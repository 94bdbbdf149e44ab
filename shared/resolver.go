package shared

import (
	"context"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/importer"
)

// Resolver binds shared modules into one worker's module table.
type Resolver struct {
	reg        *Registry
	table      *importer.Table
	unbound    []string
	unbindOnce sync.Once
}

// NewResolver creates the shared-module resolver of one worker.
func NewResolver(reg *Registry, table *importer.Table) *Resolver {
	return &Resolver{reg: reg, table: table}
}

// Install places the resolver at the front of chain. A second install into
// the same chain is a no-op and reports false.
func (s *Resolver) Install(chain *importer.Chain) bool {
	return chain.Insert(s)
}

// Prepare runs when the worker is created. With StrategyEager the whole
// allow-list is loaded and bound up front.
func (s *Resolver) Prepare(ctx context.Context) error {
	if s.reg.Strategy() != StrategyEager {
		return nil
	}
	return s.reg.BindAll(ctx, s.table)
}

// Find implements importer.Finder for allow-listed names. A failure to load
// an allow-listed name in the main instance is fatal for the import: the
// error is never one the chain falls through on, so a worker cannot end up
// with a private copy of a shared module.
func (s *Resolver) Find(ctx context.Context, name string) (starlark.Value, bool, error) {
	if !s.reg.Allowed(name) {
		return nil, false, nil
	}
	v, err := s.reg.Bind(ctx, s.table, name)
	if err != nil {
		return nil, true, errors.New(errors.PhaseBind, errors.KindLoadFailed).
			Path(strings.Split(name, ".")...).
			Value(name).
			Detail("bind shared module %q", name).
			Cause(err).
			Build()
	}
	return v, true, nil
}

// Unbind removes the worker's shared bindings. Only the first call has an
// effect; it returns the removed names.
func (s *Resolver) Unbind() []string {
	s.unbindOnce.Do(func() {
		s.unbound = s.reg.Unbind(s.table)
		Logger().Debug("unbound shared modules", zap.Strings("modules", s.unbound))
	})
	return s.unbound
}

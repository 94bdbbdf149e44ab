package javaimport

import (
	"context"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/importer"
)

// Resolver projects host packages and classes into one interpreter instance.
// Package handles it creates are registered in the instance's module table,
// so a package reached by import and by attribute access is the same value.
type Resolver struct {
	enq     host.Enquirer
	loader  host.ClassLoader
	table   *importer.Table
	skipped atomic.Int64
}

// NewResolver creates a resolver for h registering handles into table.
func NewResolver(h host.Host, table *importer.Table) *Resolver {
	return &Resolver{enq: h, loader: h, table: table}
}

// Install places the resolver at the front of chain. Installing a second
// resolver into the same chain is a no-op and reports false.
func (r *Resolver) Install(chain *importer.Chain) bool {
	return chain.Insert(r)
}

// Claims reports whether name looks like a host package.
func (r *Resolver) Claims(name string) bool {
	return r.enq.IsJavaPackage(name)
}

// Find implements importer.Finder.
func (r *Resolver) Find(_ context.Context, name string) (starlark.Value, bool, error) {
	if !r.Claims(name) {
		return nil, false, nil
	}
	v, err := r.Resolve(name)
	return v, true, err
}

// Resolve returns the handle for a package or class path. Parents are
// resolved first so every handle is linked into its parent's cache.
func (r *Resolver) Resolve(name string) (starlark.Value, error) {
	if v, ok := r.table.Get(name); ok {
		return v, nil
	}

	parent, leaf := host.SplitName(name)
	if parent == "" {
		if !r.enq.IsJavaPackage(name) {
			return nil, errors.SymbolNotFound(errors.PhaseResolve, name)
		}
		p, err := r.newPackage(name)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	pv, err := r.Resolve(parent)
	if err != nil {
		return nil, err
	}
	pkg, ok := pv.(*Package)
	if !ok {
		return nil, errors.SymbolNotFound(errors.PhaseResolve, name)
	}
	return pkg.resolve(leaf)
}

// Skipped returns the number of classes whose resolution failed and was
// swallowed while populating packages in bulk.
func (r *Resolver) Skipped() int64 {
	return r.skipped.Load()
}

// newPackage builds, populates and registers a package handle. If another
// handle won the registration race, that one is returned.
func (r *Resolver) newPackage(name string) (*Package, error) {
	p := &Package{
		name:     name,
		r:        r,
		subs:     make(map[string]struct{}),
		children: make(map[string]starlark.Value),
	}
	if r.enq.SupportsPackageImport() {
		if err := p.populate(); err != nil {
			return nil, err
		}
	}

	stored := r.table.PutIfAbsent(name, p)
	if existing, ok := stored.(*Package); ok && existing != p {
		return existing, nil
	}
	if stored != starlark.Value(p) {
		// name is held by a non-package module, e.g. a script module
		return nil, errors.New(errors.PhaseResolve, errors.KindInvalidData).
			Path(splitPath(name)...).
			Detail("%q is registered as %s, not a host package", name, stored.Type()).
			Build()
	}

	Logger().Debug("package registered",
		zap.String("package", name),
		zap.Int("classes", len(p.children)),
		zap.Int("subpackages", len(p.subs)))
	return p, nil
}

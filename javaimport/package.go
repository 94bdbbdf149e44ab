package javaimport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
)

// Package is the script-side handle of a host package. Children are
// resolved on first attribute access and cached; a cached child is returned
// as the identical value on every later access without querying the host.
type Package struct {
	name     string
	r        *Resolver
	subs     map[string]struct{}
	children map[string]starlark.Value
	diag     *errors.SkippedClassesError
	mu       sync.Mutex
}

var (
	_ starlark.Value    = (*Package)(nil)
	_ starlark.HasAttrs = (*Package)(nil)
)

// Name returns the qualified package name.
func (p *Package) Name() string { return p.name }

func (p *Package) String() string        { return fmt.Sprintf("<package %s>", p.name) }
func (p *Package) Type() string          { return "package" }
func (p *Package) Freeze()               {}
func (p *Package) Truth() starlark.Bool  { return starlark.True }
func (p *Package) Hash() (uint32, error) { return starlark.String(p.name).Hash() }

// Attr resolves a sub-package or class. A name that the host does not know
// fails with errors.KindNotFound; a failed host query fails with
// errors.KindHostFailure.
func (p *Package) Attr(name string) (starlark.Value, error) {
	return p.resolve(name)
}

// AttrNames lists recorded sub-packages, sub-packages and classes known to
// the enquirer, and every cached child. Nothing is resolved.
func (p *Package) AttrNames() []string {
	names := make(map[string]struct{})

	p.mu.Lock()
	for s := range p.subs {
		names[s] = struct{}{}
	}
	for c := range p.children {
		names[c] = struct{}{}
	}
	p.mu.Unlock()

	enq := p.r.enq
	if subs, err := enq.SubPackages(p.name); err != nil {
		Logger().Debug("listing sub-packages failed", zap.String("package", p.name), zap.Error(err))
	} else {
		for _, s := range subs {
			names[s] = struct{}{}
		}
	}
	if classes, err := enq.ClassNames(p.name); err != nil {
		Logger().Debug("listing classes failed", zap.String("package", p.name), zap.Error(err))
	} else {
		for _, c := range classes {
			_, leaf := host.SplitName(c)
			names[leaf] = struct{}{}
		}
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Diagnostics returns the class resolution failures swallowed while the
// package was populated, or nil if there were none.
func (p *Package) Diagnostics() *errors.SkippedClassesError {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.diag.Len() == 0 {
		return nil
	}
	return &errors.SkippedClassesError{Classes: append([]errors.SkippedClass(nil), p.diag.Classes...)}
}

// populate eagerly records sub-packages and resolves every listed class.
// Individual class failures are recorded, not returned.
func (p *Package) populate() error {
	enq, loader := p.r.enq, p.r.loader

	subs, err := enq.SubPackages(p.name)
	if err != nil {
		return errors.HostFailure("list sub-packages of", p.name, err)
	}
	for _, s := range subs {
		p.subs[s] = struct{}{}
	}

	classes, err := enq.ClassNames(p.name)
	if err != nil {
		return errors.HostFailure("list classes of", p.name, err)
	}
	for _, qualified := range classes {
		_, leaf := host.SplitName(qualified)
		h, err := loader.LoadClass(qualified)
		if err != nil {
			if p.diag == nil {
				p.diag = &errors.SkippedClassesError{}
			}
			p.diag.Add(p.name, qualified, err)
			p.r.skipped.Add(1)
			Logger().Debug("skipping class", zap.String("class", qualified), zap.Error(err))
			continue
		}
		p.children[leaf] = newClass(h)
	}
	return nil
}

func (p *Package) resolve(leaf string) (starlark.Value, error) {
	if leaf == "" {
		return nil, errors.InvalidInput(errors.PhaseResolve, "empty attribute name")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.children[leaf]; ok {
		return v, nil
	}

	enq := p.r.enq
	qualified := p.name + "." + leaf

	if _, ok := p.subs[leaf]; ok {
		return p.childPackageLocked(leaf, qualified)
	}

	subs, err := enq.SubPackages(p.name)
	if err != nil {
		return nil, errors.HostFailure("list sub-packages of", p.name, err)
	}
	for _, s := range subs {
		if s == leaf {
			p.subs[leaf] = struct{}{}
			return p.childPackageLocked(leaf, qualified)
		}
	}

	h, err := p.r.loader.LoadClass(qualified)
	if err == nil {
		c := newClass(h)
		p.children[leaf] = c
		return c, nil
	}
	if !errors.IsNotFound(err) {
		return nil, errors.HostFailure("load class", qualified, err)
	}

	// enquirers that cannot enumerate only know packages by convention
	if !enq.SupportsPackageImport() && host.StartsLower(leaf) && enq.IsJavaPackage(qualified) {
		return p.childPackageLocked(leaf, qualified)
	}

	return nil, errors.SymbolNotFound(errors.PhaseResolve, qualified)
}

// childPackageLocked must be called with mu held.
func (p *Package) childPackageLocked(leaf, qualified string) (starlark.Value, error) {
	child, err := p.r.newPackage(qualified)
	if err != nil {
		return nil, err
	}
	p.children[leaf] = child
	return child, nil
}

func splitPath(name string) []string {
	return strings.Split(name, ".")
}

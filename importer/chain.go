package importer

import (
	"context"
	"reflect"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
)

// Finder is one entry of an import hook chain.
//
// Find reports claimed=false when name is not its business, letting the chain
// fall through. A claimed lookup also falls through when it fails because
// name itself does not exist (see errors.IsMissing); any other error,
// including a not-found raised while loading name, ends the lookup.
type Finder interface {
	Find(ctx context.Context, name string) (v starlark.Value, claimed bool, err error)
}

// FinderFunc adapts a function to the Finder interface.
type FinderFunc func(ctx context.Context, name string) (starlark.Value, bool, error)

func (f FinderFunc) Find(ctx context.Context, name string) (starlark.Value, bool, error) {
	return f(ctx, name)
}

// Chain is an ordered list of finders consulted for every unresolved name.
// At most one finder of each concrete type is installed.
// Chain is safe for concurrent use.
type Chain struct {
	finders []Finder
	mu      sync.RWMutex
}

// NewChain creates a chain with the given finders in order.
func NewChain(finders ...Finder) *Chain {
	c := &Chain{}
	for _, f := range finders {
		c.Append(f)
	}
	return c
}

// Insert places f at the front of the chain. It reports false and leaves the
// chain unchanged if a finder of the same type is already installed.
func (c *Chain) Insert(f Finder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasTypeLocked(f) {
		Logger().Debug("finder already installed", zap.String("type", typeName(f)))
		return false
	}
	c.finders = append([]Finder{f}, c.finders...)
	return true
}

// Append places f at the end of the chain, with the same duplicate rule as Insert.
func (c *Chain) Append(f Finder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasTypeLocked(f) {
		Logger().Debug("finder already installed", zap.String("type", typeName(f)))
		return false
	}
	c.finders = append(c.finders, f)
	return true
}

// Remove uninstalls the finder of f's type. It reports whether one was removed.
func (c *Chain) Remove(f Finder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := reflect.TypeOf(f)
	for i, existing := range c.finders {
		if reflect.TypeOf(existing) == t {
			c.finders = append(c.finders[:i:i], c.finders[i+1:]...)
			return true
		}
	}
	return false
}

// Finders returns a copy of the installed finders in order.
func (c *Chain) Finders() []Finder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Finder, len(c.finders))
	copy(out, c.finders)
	return out
}

// Len returns the number of installed finders.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.finders)
}

// Resolve consults the finders in order and returns the first value produced.
func (c *Chain) Resolve(ctx context.Context, name string) (starlark.Value, error) {
	for _, f := range c.Finders() {
		v, claimed, err := f.Find(ctx, name)
		if !claimed {
			continue
		}
		if err != nil {
			if errors.IsMissing(err, name) {
				Logger().Debug("finder claimed but did not find",
					zap.String("name", name), zap.String("finder", typeName(f)))
				continue
			}
			return nil, err
		}
		Logger().Debug("resolved", zap.String("name", name), zap.String("finder", typeName(f)))
		return v, nil
	}
	return nil, errors.SymbolNotFound(errors.PhaseResolve, name)
}

func (c *Chain) hasTypeLocked(f Finder) bool {
	t := reflect.TypeOf(f)
	if t == reflect.TypeOf(FinderFunc(nil)) {
		return false
	}
	for _, existing := range c.finders {
		if reflect.TypeOf(existing) == t {
			return true
		}
	}
	return false
}

func typeName(f Finder) string {
	return reflect.TypeOf(f).String()
}

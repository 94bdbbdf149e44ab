package runtime

import (
	"fmt"
	"sort"
	"sync"

	"go.starlark.net/starlark"
)

// Module is a loaded script module. Its globals are frozen once the module
// finishes loading, so a Module can be read from several goroutines.
// Top-level assignment (m.x = v) replaces a binding with a frozen value and
// is visible to every instance holding the module.
type Module struct {
	globals starlark.StringDict
	name    string
	path    string
	owner   int64
	mu      sync.RWMutex
}

var (
	_ starlark.HasAttrs    = (*Module)(nil)
	_ starlark.HasSetField = (*Module)(nil)
)

func newModule(name, path string, owner int64, globals starlark.StringDict) *Module {
	if globals == nil {
		globals = make(starlark.StringDict)
	}
	globals.Freeze()
	return &Module{name: name, path: path, owner: owner, globals: globals}
}

// Name returns the qualified module name.
func (m *Module) Name() string { return m.name }

// Path returns the file the module was loaded from, or "" for namespace
// modules.
func (m *Module) Path() string { return m.path }

// Owner returns the ID of the instance that loaded the module.
func (m *Module) Owner() int64 { return m.owner }

// Globals returns a copy of the module's globals.
func (m *Module) Globals() starlark.StringDict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(starlark.StringDict, len(m.globals))
	for k, v := range m.globals {
		out[k] = v
	}
	return out
}

func (m *Module) String() string {
	if m.path == "" {
		return fmt.Sprintf("<module %s (namespace)>", m.name)
	}
	return fmt.Sprintf("<module %s from %q>", m.name, m.path)
}

func (m *Module) Type() string          { return "module" }
func (m *Module) Freeze()               {}
func (m *Module) Truth() starlark.Bool  { return starlark.True }
func (m *Module) Hash() (uint32, error) { return starlark.String(m.name).Hash() }

func (m *Module) Attr(name string) (starlark.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globals[name], nil
}

func (m *Module) AttrNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.globals))
	for k := range m.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (m *Module) SetField(name string, v starlark.Value) error {
	v.Freeze()
	m.set(name, v)
	return nil
}

func (m *Module) set(name string, v starlark.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals[name] = v
}

// exports returns the globals visible to load: names not starting with '_'.
func (m *Module) exports() starlark.StringDict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(starlark.StringDict, len(m.globals))
	for k, v := range m.globals {
		if len(k) > 0 && k[0] != '_' {
			out[k] = v
		}
	}
	return out
}

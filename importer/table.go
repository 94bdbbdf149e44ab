package importer

import (
	"sort"
	"sync"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/host"
)

// Table maps qualified module names to module values for one interpreter
// instance. Table is safe for concurrent use so lifecycle hooks may bind and
// unbind entries from another goroutine.
type Table struct {
	entries map[string]starlark.Value
	mu      sync.RWMutex
}

// NewTable creates an empty module table.
func NewTable() *Table {
	return &Table{entries: make(map[string]starlark.Value)}
}

// Get returns the value registered under name.
func (t *Table) Get(name string) (starlark.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.entries[name]
	return v, ok
}

// Put registers v under name, replacing any existing entry.
func (t *Table) Put(name string, v starlark.Value) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name] = v
}

// PutIfAbsent registers v unless name is already present, and returns the
// value registered under name afterwards.
func (t *Table) PutIfAbsent(name string, v starlark.Value) starlark.Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[name]; ok {
		return existing
	}
	t.entries[name] = v
	return v
}

// Delete removes name and reports whether it was present.
func (t *Table) Delete(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[name]
	delete(t.entries, name)
	return ok
}

// DeleteUnder removes prefix and every dotted child of it, returning the
// removed names sorted.
func (t *Table) DeleteUnder(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for name := range t.entries {
		if host.Covers(prefix, name) {
			delete(t.entries, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Under returns the entries equal to or below prefix.
func (t *Table) Under(prefix string) map[string]starlark.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]starlark.Value)
	for name, v := range t.entries {
		if host.Covers(prefix, name) {
			out[name] = v
		}
	}
	return out
}

// Names returns all registered names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every entry.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]starlark.Value)
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of every entry.
func (t *Table) Snapshot() map[string]starlark.Value {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]starlark.Value, len(t.entries))
	for name, v := range t.entries {
		out[name] = v
	}
	return out
}

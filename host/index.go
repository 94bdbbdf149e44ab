package host

import (
	"sort"
	"strings"
	"sync"

	"github.com/wippyai/starbridge/errors"
)

// Index is an in-memory, append-only class registry. It implements Host with
// full package enumeration and is the storage behind ClassPath and the wasm
// host. Index is safe for concurrent use.
type Index struct {
	packages map[string]*packageEntry
	classes  map[string]*ClassHandle
	mu       sync.RWMutex
}

type packageEntry struct {
	subs    map[string]struct{}
	classes []string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		packages: make(map[string]*packageEntry),
		classes:  make(map[string]*ClassHandle),
	}
}

// AddClass registers a class under its package, creating every enclosing
// package. Classes in restricted packages and classes without a package are
// ignored. AddClass reports whether the class was added.
func (x *Index) AddClass(c ClassHandle) bool {
	pkg, leaf := SplitName(c.Name)
	if pkg == "" || leaf == "" || IsRestricted(pkg) {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.classes[c.Name]; exists {
		return false
	}

	entry := x.ensurePackage(pkg)
	entry.classes = append(entry.classes, c.Name)
	handle := c
	x.classes[c.Name] = &handle
	return true
}

// AddPackage registers an empty package and its parents.
func (x *Index) AddPackage(pkg string) {
	if pkg == "" || IsRestricted(pkg) {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ensurePackage(pkg)
}

// ensurePackage must be called with mu held.
func (x *Index) ensurePackage(pkg string) *packageEntry {
	if entry, ok := x.packages[pkg]; ok {
		return entry
	}
	entry := &packageEntry{subs: make(map[string]struct{})}
	x.packages[pkg] = entry

	parent, leaf := SplitName(pkg)
	if parent != "" {
		x.ensurePackage(parent).subs[leaf] = struct{}{}
	}
	return entry
}

// Len returns the number of registered classes.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.classes)
}

// Packages returns all registered package names, sorted.
func (x *Index) Packages() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.packages))
	for name := range x.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (x *Index) IsJavaPackage(name string) bool {
	if name == "" {
		return false
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.packages[name]
	return ok
}

func (x *Index) SubPackages(pkg string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.packages[pkg]
	if !ok {
		return []string{}, nil
	}
	subs := make([]string, 0, len(entry.subs))
	for s := range entry.subs {
		subs = append(subs, s)
	}
	sort.Strings(subs)
	return subs, nil
}

func (x *Index) ClassNames(pkg string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.packages[pkg]
	if !ok {
		return []string{}, nil
	}
	names := make([]string, len(entry.classes))
	copy(names, entry.classes)
	sort.Strings(names)
	return names, nil
}

func (x *Index) SupportsPackageImport() bool {
	return true
}

func (x *Index) LoadClass(name string) (*ClassHandle, error) {
	x.mu.RLock()
	c, ok := x.classes[name]
	x.mu.RUnlock()
	if !ok {
		return nil, errors.SymbolNotFound(errors.PhaseEnquire, name)
	}
	handle := *c
	return &handle, nil
}

// classNameFromPath converts "java/lang/String.class" or "java/lang/String"
// into "java.lang.String". Inner classes ('$') are rejected.
func classNameFromPath(p string) (string, bool) {
	p = strings.TrimSuffix(p, ".class")
	p = strings.TrimPrefix(p, "/")
	if p == "" || strings.ContainsRune(p, '$') || !strings.ContainsRune(p, '/') {
		return "", false
	}
	return strings.ReplaceAll(p, "/", "."), true
}

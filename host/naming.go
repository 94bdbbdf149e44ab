package host

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultTopLevel are the top-level package names NamingConvention treats as
// host packages out of the box.
var DefaultTopLevel = []string{"java", "javax", "com", "gov", "org", "edu", "mil", "net"}

// NamingConvention decides host names by convention alone: a name is a host
// package when its first segment is a known top-level name and its last
// segment starts with a lowercase letter. It cannot enumerate packages, so
// packages are imported lazily class by class.
type NamingConvention struct {
	names map[string]struct{}
	mu    sync.RWMutex
}

// NewNamingConvention creates an enquirer seeded with DefaultTopLevel when
// includeDefaults is set, plus any extra top-level names.
func NewNamingConvention(includeDefaults bool, extra ...string) *NamingConvention {
	n := &NamingConvention{names: make(map[string]struct{})}
	if includeDefaults {
		for _, name := range DefaultTopLevel {
			n.names[name] = struct{}{}
		}
	}
	for _, name := range extra {
		n.AddTopLevel(name)
	}
	return n
}

// AddTopLevel adds a top-level package name such as "us" or "ch".
// Restricted names are ignored.
func (n *NamingConvention) AddTopLevel(name string) {
	if name == "" || IsRestricted(name) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names[name] = struct{}{}
}

// TopLevel returns the configured top-level names, sorted.
func (n *NamingConvention) TopLevel() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.names))
	for name := range n.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (n *NamingConvention) IsJavaPackage(name string) bool {
	if name == "" {
		return false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if _, ok := n.names[name]; ok {
		return true
	}
	first, _, _ := strings.Cut(name, ".")
	if _, ok := n.names[first]; !ok {
		return false
	}
	_, leaf := SplitName(name)
	return StartsLower(leaf)
}

func (n *NamingConvention) SubPackages(string) ([]string, error) { return nil, nil }

func (n *NamingConvention) ClassNames(string) ([]string, error) { return nil, nil }

func (n *NamingConvention) SupportsPackageImport() bool { return false }

// StartsLower reports whether the first rune of s is a lowercase letter.
func StartsLower(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsLower(r)
}

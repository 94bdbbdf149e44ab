package host

import (
	"strings"
)

// RestrictedPackages are top-level names that collide with script modules
// and are never treated as host packages.
var RestrictedPackages = []string{"io", "re"}

// Enquirer answers package and class existence queries against the host
// class registry. Answers may gain new names over the lifetime of a process
// but never lose a name that was previously visible.
type Enquirer interface {
	// IsJavaPackage reports whether name is likely a host package or class
	// path. true does not guarantee that an import succeeds.
	IsJavaPackage(name string) bool

	// SubPackages returns the leaf names of the packages directly below pkg.
	// A nil slice with a nil error means the enquirer cannot enumerate.
	SubPackages(pkg string) ([]string, error)

	// ClassNames returns the fully qualified names of the classes in pkg.
	// A nil slice with a nil error means the enquirer cannot enumerate.
	ClassNames(pkg string) ([]string, error)

	// SupportsPackageImport reports whether packages can be enumerated in
	// bulk (ClassNames/SubPackages return real answers).
	SupportsPackageImport() bool
}

// ClassLoader resolves qualified class names. A class that does not exist or
// is not accessible yields an error of kind errors.KindNotFound.
type ClassLoader interface {
	LoadClass(name string) (*ClassHandle, error)
}

// Host is the full host object system view consumed by the import resolver.
type Host interface {
	Enquirer
	ClassLoader
}

// ClassHandle describes one resolved host class.
type ClassHandle struct {
	Name      string // fully qualified, e.g. "java.util.ArrayList"
	Source    string // archive, directory or module the class came from
	Signature string // optional callable signature
}

// Package returns the qualified package of the class.
func (c *ClassHandle) Package() string {
	pkg, _ := SplitName(c.Name)
	return pkg
}

// SimpleName returns the last segment of the class name.
func (c *ClassHandle) SimpleName() string {
	_, leaf := SplitName(c.Name)
	return leaf
}

// SplitName splits a dotted name into parent and leaf on the last separator.
// The parent is empty for top-level names.
func SplitName(name string) (parent, leaf string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

// Covers reports whether name equals prefix or is a dotted child of it.
func Covers(prefix, name string) bool {
	return name == prefix || (len(name) > len(prefix) && name[len(prefix)] == '.' && strings.HasPrefix(name, prefix))
}

// IsRestricted reports whether name is, or lies under, a restricted package.
func IsRestricted(name string) bool {
	for _, r := range RestrictedPackages {
		if Covers(r, name) {
			return true
		}
	}
	return false
}

type composite struct {
	Enquirer
	ClassLoader
}

// Compose pairs an enquirer with a separate class loader, e.g. a
// NamingConvention enquirer with an Index that actually holds classes.
func Compose(enq Enquirer, loader ClassLoader) Host {
	return composite{Enquirer: enq, ClassLoader: loader}
}

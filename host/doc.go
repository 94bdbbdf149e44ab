// Package host models the foreign host object system whose packages and
// classes are projected into Starlark.
//
// # Main Types
//
//   - Enquirer: package/class existence queries
//   - ClassLoader: qualified name to ClassHandle resolution
//   - Index: in-memory append-only registry with full enumeration
//   - ClassPath: Index populated from jars, class directories and class lists
//   - NamingConvention: convention-only enquirer, no enumeration
//   - ScriptFirst: reserves package prefixes for script modules
//
// Enquirers that cannot enumerate return nil slices from SubPackages and
// ClassNames and false from SupportsPackageImport; the import resolver then
// falls back to resolving classes one attribute at a time.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package host

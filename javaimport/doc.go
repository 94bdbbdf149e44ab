// Package javaimport resolves host package and class names for scripts.
//
// A Resolver sits at the front of an instance's finder chain. It claims every
// name the host enquirer recognizes and returns a Package handle whose
// attributes are resolved on first access:
//
//	load("java.util", "ArrayList")
//	util = import_module("java.util")
//	util.concurrent.ConcurrentHashMap
//
// When the enquirer can enumerate packages, classes are resolved eagerly as
// the package is created; classes that fail to resolve are skipped and
// reported through Package.Diagnostics and Resolver.Skipped. Otherwise each
// class is resolved the first time it is accessed.
//
// dir() on a package lists its known contents without resolving them.
package javaimport

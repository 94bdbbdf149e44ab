// Package shared lets an allow-listed set of modules be reused across
// isolated interpreter instances.
//
// A module under an allow-listed prefix is imported once, into the main
// instance, and every worker that imports it receives the identical value.
// Each entry moves through Unloaded, Loading and Loaded; a failed import
// returns to Unloaded so the next import retries.
//
// Workers hold shared modules only through their module tables. Before a
// worker is discarded its Resolver unbinds them, so a worker's teardown
// never finalizes state that belongs to the main instance.
//
// Top-level assignments on a shared module are visible to every worker.
package shared

// Package errors provides structured error types for the starbridge module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the dotted name path, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResolve, errors.KindNotFound).
//		Path("java", "util", "Missing").
//		Detail("no such class").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SymbolNotFound(errors.PhaseResolve, "java.util.Missing")
//	err := errors.HostFailure("list sub-packages", "java.util", cause)
//
// "Symbol not found" and "host failure" are deliberately different kinds:
// the first is a normal negative answer that lets the import chain try the
// next finder, the second means the host itself broke for that one lookup.
//
//	if errors.IsNotFound(err) { ... }
//	if errors.IsHostFailure(err) { ... }
//
// All errors implement the standard error interface and support errors.Is/As.
package errors

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseResolve   Phase = "resolve"   // import chain and handle resolution
	PhaseEnquire   Phase = "enquire"   // host class registry queries
	PhaseLoad      Phase = "load"      // script and native module loading
	PhaseBind      Phase = "bind"      // shared module binding
	PhaseLifecycle Phase = "lifecycle" // instance creation and teardown
	PhaseConfig    Phase = "config"    // configuration loading
	PhaseParse     Phase = "parse"     // script parsing
	PhaseRuntime   Phase = "runtime"   // script execution
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindHostFailure    Kind = "host_failure"
	KindNotAllowed     Kind = "not_allowed"
	KindCycle          Kind = "cycle"
	KindClosed         Kind = "closed"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindNotInitialized Kind = "not_initialized"
	KindLoadFailed     Kind = "load_failed"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the dotted name path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Kind matching helpers

// IsNotFound reports whether err is a "symbol not found" result anywhere in its chain.
func IsNotFound(err error) bool {
	return errors.Is(err, &Error{Kind: KindNotFound})
}

// IsMissing reports whether err says that name itself, or one of its
// dotted parents, does not exist. Causes are not inspected: a module that
// exists but fails on a nested missing import is not missing.
func IsMissing(err error, name string) bool {
	e, ok := err.(*Error)
	if !ok || e.Kind != KindNotFound {
		return false
	}
	missing, _ := e.Value.(string)
	return missing != "" && (missing == name || strings.HasPrefix(name, missing+"."))
}

// IsHostFailure reports whether err is a failed host query.
func IsHostFailure(err error) bool {
	return errors.Is(err, &Error{Kind: KindHostFailure})
}

// IsClosed reports whether err was caused by use of a closed instance.
func IsClosed(err error) bool {
	return errors.Is(err, &Error{Kind: KindClosed})
}

// Convenience constructors for common error patterns

// SymbolNotFound creates the normal negative result for a dotted name
// that does not exist in the host or on the include path.
func SymbolNotFound(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Path:   splitDotted(name),
		Detail: fmt.Sprintf("symbol %q not found", name),
		Value:  name,
	}
}

// HostFailure wraps an error raised by the host while answering a query.
func HostFailure(op, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseEnquire,
		Kind:   KindHostFailure,
		Path:   splitDotted(name),
		Detail: fmt.Sprintf("%s %q", op, name),
		Cause:  cause,
		Value:  name,
	}
}

// NotAllowed creates an error for a name outside the shared allow-list.
func NotAllowed(name string) *Error {
	return &Error{
		Phase:  PhaseBind,
		Kind:   KindNotAllowed,
		Path:   splitDotted(name),
		Detail: fmt.Sprintf("module %q is not in the shared allow-list", name),
		Value:  name,
	}
}

// Cycle creates an import cycle error; chain lists the modules in load order.
func Cycle(chain []string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCycle,
		Detail: "import cycle: " + strings.Join(chain, " -> "),
		Value:  chain,
	}
}

// Closed creates an error for use of a closed component.
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// NotInitialized creates a not-initialized error for a missing component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Load creates a module loading error
func Load(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailed,
		Path:   splitDotted(name),
		Detail: fmt.Sprintf("load %q", name),
		Cause:  cause,
		Value:  name,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: "parse " + what,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

func splitDotted(name string) []string {
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// SkippedClass records one class that could not be resolved while a
// package was populated in bulk.
type SkippedClass struct {
	Cause   error
	Package string // e.g., "java.util"
	Class   string // e.g., "java.util.Hidden"
}

// SkippedClassesError collects the class resolution failures swallowed during
// bulk package import. It is reported as a diagnostic, never raised by an import.
type SkippedClassesError struct {
	Classes []SkippedClass
}

// Add records a swallowed failure.
func (e *SkippedClassesError) Add(pkg, class string, cause error) {
	e.Classes = append(e.Classes, SkippedClass{Package: pkg, Class: class, Cause: cause})
}

// Len returns the number of skipped classes.
func (e *SkippedClassesError) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Classes)
}

func (e *SkippedClassesError) Error() string {
	if len(e.Classes) == 0 {
		return "[resolve] skipped: no classes recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "skipped %d class(es):\n", len(e.Classes))

	// Group by package for cleaner output
	byPkg := make(map[string][]SkippedClass)
	var pkgOrder []string
	for _, c := range e.Classes {
		if _, exists := byPkg[c.Package]; !exists {
			pkgOrder = append(pkgOrder, c.Package)
		}
		byPkg[c.Package] = append(byPkg[c.Package], c)
	}

	for _, pkg := range pkgOrder {
		b.WriteString("\n  ")
		b.WriteString(pkg)
		b.WriteString(":\n")
		for _, c := range byPkg[pkg] {
			b.WriteString("    - ")
			b.WriteString(simpleName(c.Class))
			if c.Cause != nil {
				b.WriteString(": ")
				b.WriteString(c.Cause.Error())
			}
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Unwrap exposes every recorded cause to errors.Is/As.
func (e *SkippedClassesError) Unwrap() []error {
	causes := make([]error, 0, len(e.Classes))
	for _, c := range e.Classes {
		if c.Cause != nil {
			causes = append(causes, c.Cause)
		}
	}
	return causes
}

func simpleName(qualified string) string {
	if idx := strings.LastIndexByte(qualified, '.'); idx >= 0 {
		return qualified[idx+1:]
	}
	return qualified
}

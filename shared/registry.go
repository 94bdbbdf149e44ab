package shared

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/importer"
)

// State is the load state of a shared module entry.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Strategy selects when workers receive shared modules.
type Strategy int

const (
	// StrategyLazy binds a shared module on the worker's first import of it.
	StrategyLazy Strategy = iota
	// StrategyEager loads the whole allow-list and binds it when the worker
	// is created.
	StrategyEager
)

func (s Strategy) String() string {
	if s == StrategyEager {
		return "eager"
	}
	return "lazy"
}

// ParseStrategy parses "lazy" or "eager". The empty string means lazy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "lazy":
		return StrategyLazy, nil
	case "eager":
		return StrategyEager, nil
	}
	return StrategyLazy, errors.InvalidInput(errors.PhaseConfig, "unknown strategy "+s)
}

// MainImporter is the main instance as seen by the registry.
type MainImporter interface {
	// ImportIntoMain imports name, and its parents, into the main instance.
	ImportIntoMain(ctx context.Context, name string) error
	// SnapshotMain returns a copy of the main instance's module table.
	SnapshotMain() map[string]starlark.Value
}

type entry struct {
	value   starlark.Value
	attempt *attempt
	state   State
}

// attempt is one in-flight import. done is closed when it finishes.
type attempt struct {
	done chan struct{}
	err  error
}

// Registry is the process-wide table of shared modules. Entries are created
// once by the main instance and never replaced; every worker that imports an
// allow-listed name receives the same value.
//
// mu guards the table only. Imports into the main instance run outside it,
// serialized by mainMu.
type Registry struct {
	main     MainImporter
	entries  map[string]*entry
	prefixes []string
	strategy Strategy
	mu       sync.Mutex
	mainMu   sync.Mutex
}

// NewRegistry creates a registry for the allow-listed prefixes.
func NewRegistry(main MainImporter, strategy Strategy, prefixes ...string) *Registry {
	seen := make(map[string]struct{})
	var ps []string
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ps = append(ps, p)
	}
	// shortest first so the broadest covering prefix wins
	sort.SliceStable(ps, func(i, j int) bool { return len(ps[i]) < len(ps[j]) })

	return &Registry{
		main:     main,
		entries:  make(map[string]*entry),
		prefixes: ps,
		strategy: strategy,
	}
}

// Prefixes returns the allow-list.
func (r *Registry) Prefixes() []string {
	out := make([]string, len(r.prefixes))
	copy(out, r.prefixes)
	return out
}

// Strategy returns the configured binding strategy.
func (r *Registry) Strategy() Strategy { return r.strategy }

// Allowed reports whether name equals or is a dotted child of an allow-listed prefix.
func (r *Registry) Allowed(name string) bool {
	_, ok := r.covering(name)
	return ok
}

func (r *Registry) covering(name string) (string, bool) {
	for _, p := range r.prefixes {
		if host.Covers(p, name) {
			return p, true
		}
	}
	return "", false
}

// State returns the load state of name.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e.state
	}
	return StateUnloaded
}

// EnsureLoaded makes sure name is loaded in the main instance and committed.
// Concurrent callers for the same name wait for the single in-flight import
// and receive its error. A failed import leaves the entry unloaded so a
// later call retries. Waiting is not cancellable.
func (r *Registry) EnsureLoaded(ctx context.Context, name string) error {
	prefix, ok := r.covering(name)
	if !ok {
		return errors.NotAllowed(name)
	}

	r.mu.Lock()
	e := r.entryLocked(name)
	switch e.state {
	case StateLoaded:
		r.mu.Unlock()
		return nil
	case StateLoading:
		a := e.attempt
		r.mu.Unlock()
		Logger().Debug("waiting for shared module", zap.String("module", name))
		<-a.done
		return a.err
	}

	a := &attempt{done: make(chan struct{})}
	e.state = StateLoading
	e.attempt = a
	r.mu.Unlock()

	Logger().Debug("importing shared module into main", zap.String("module", name))
	err := r.importIntoMain(ctx, name)
	var snapshot map[string]starlark.Value
	if err == nil {
		snapshot = r.main.SnapshotMain()
		if _, ok := snapshot[name]; !ok {
			err = errors.Load(name, errors.SymbolNotFound(errors.PhaseLoad, name))
		}
	}

	r.mu.Lock()
	if err != nil {
		if e.state == StateLoading && e.attempt == a {
			e.state = StateUnloaded
			e.attempt = nil
		}
		a.err = err
		Logger().Debug("shared module import failed", zap.String("module", name), zap.Error(err))
	} else {
		committed := r.commitLocked(prefix, snapshot)
		Logger().Debug("shared module loaded",
			zap.String("module", name), zap.Int("committed", committed))
	}
	close(a.done)
	r.mu.Unlock()

	return err
}

func (r *Registry) importIntoMain(ctx context.Context, name string) error {
	r.mainMu.Lock()
	defer r.mainMu.Unlock()
	return r.main.ImportIntoMain(ctx, name)
}

// entryLocked must be called with mu held.
func (r *Registry) entryLocked(name string) *entry {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{}
		r.entries[name] = e
	}
	return e
}

// commitLocked marks every main-table entry under prefix as loaded. Entries
// already loaded keep their value. Must be called with mu held.
func (r *Registry) commitLocked(prefix string, snapshot map[string]starlark.Value) int {
	n := 0
	for name, v := range snapshot {
		if !host.Covers(prefix, name) {
			continue
		}
		e := r.entryLocked(name)
		if e.state == StateLoaded {
			continue
		}
		e.value = v
		e.state = StateLoaded
		// an attempt still in flight for this name finishes on its own
		e.attempt = nil
		n++
	}
	return n
}

// Bind ensures name is loaded and inserts a reference to every loaded entry
// under the prefix covering name into table. It returns the value of name.
func (r *Registry) Bind(ctx context.Context, table *importer.Table, name string) (starlark.Value, error) {
	if err := r.EnsureLoaded(ctx, name); err != nil {
		return nil, err
	}
	prefix, _ := r.covering(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	bound := 0
	for n, e := range r.entries {
		if e.state == StateLoaded && host.Covers(prefix, n) {
			table.Put(n, e.value)
			bound++
		}
	}
	Logger().Debug("bound shared modules", zap.String("module", name), zap.Int("entries", bound))
	return r.entries[name].value, nil
}

// Prepopulate loads every allow-listed prefix. Failures are collected and
// returned together.
func (r *Registry) Prepopulate(ctx context.Context) error {
	var err error
	for _, p := range r.prefixes {
		err = multierr.Append(err, r.EnsureLoaded(ctx, p))
	}
	return err
}

// BindAll prepopulates the allow-list and binds every loaded entry into table.
func (r *Registry) BindAll(ctx context.Context, table *importer.Table) error {
	err := r.Prepopulate(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	for n, e := range r.entries {
		if e.state == StateLoaded {
			table.Put(n, e.value)
		}
	}
	return err
}

// Unbind removes every allow-listed name from table and returns the removed
// names. Other entries are untouched.
func (r *Registry) Unbind(table *importer.Table) []string {
	var removed []string
	for _, p := range r.prefixes {
		removed = append(removed, table.DeleteUnder(p)...)
	}
	sort.Strings(removed)
	return removed
}

// Snapshot returns a copy of the loaded entries.
func (r *Registry) Snapshot() map[string]starlark.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]starlark.Value)
	for n, e := range r.entries {
		if e.state == StateLoaded {
			out[n] = e.value
		}
	}
	return out
}

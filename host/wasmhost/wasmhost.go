// Package wasmhost exposes WebAssembly modules as a host object system.
//
// Each loaded module becomes a host package and each exported function a
// class of that package. Loading "acme.math" with an export "Add" makes
// "acme.math.Add" importable from scripts as a class handle whose signature
// is rendered from the function's core value types.
package wasmhost

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
)

// Config holds configuration for the wasm host.
type Config struct {
	// MemoryLimitPages sets the maximum memory per module in pages (64KB each).
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// Host implements host.Host on top of a wazero runtime. Host is safe for
// concurrent use.
type Host struct {
	*host.Index
	runtime wazero.Runtime
	modules map[string]api.Module
	mu      sync.RWMutex
	closed  bool
}

// New creates a wasm host with its own wazero runtime.
func New(ctx context.Context, cfg *Config) *Host {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return &Host{
		Index:   host.NewIndex(),
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		modules: make(map[string]api.Module),
	}
}

// Load compiles and instantiates wasm as host package pkg. Modules with
// imports are rejected since the host provides none. Instantiation runs the
// module's start function and applies its data segments, so a module that
// traps or overflows its memory limit while starting is rejected here rather
// than exposed as a package.
func (h *Host) Load(ctx context.Context, pkg string, wasm []byte) error {
	if pkg == "" || strings.HasPrefix(pkg, ".") || strings.HasSuffix(pkg, ".") {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("invalid package name %q", pkg))
	}
	if host.IsRestricted(pkg) {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("package name %q is restricted", pkg))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.Closed(errors.PhaseLoad, "wasm host")
	}
	if _, exists := h.modules[pkg]; exists {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("package %q already loaded", pkg))
	}

	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return errors.Load(pkg, err)
	}
	if imports := compiled.ImportedFunctions(); len(imports) > 0 {
		_ = compiled.Close(ctx)
		return errors.Load(pkg, fmt.Errorf("module imports %d function(s), none are provided", len(imports)))
	}

	inst, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(pkg))
	if err != nil {
		_ = compiled.Close(ctx)
		return errors.Load(pkg, err)
	}
	// the instance stays alive until Close; its exports back the classes
	h.modules[pkg] = inst

	h.Index.AddPackage(pkg)
	exported := 0
	for name, def := range compiled.ExportedFunctions() {
		if name == "" || strings.ContainsRune(name, '.') {
			Logger().Debug("skipping export", zap.String("package", pkg), zap.String("export", name))
			continue
		}
		if h.Index.AddClass(host.ClassHandle{
			Name:      pkg + "." + name,
			Source:    pkg,
			Signature: signature(def),
		}) {
			exported++
		}
	}

	Logger().Debug("loaded wasm package", zap.String("package", pkg), zap.Int("functions", exported))
	return nil
}

// Modules returns the loaded module package names, sorted.
func (h *Host) Modules() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.modules))
	for name := range h.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every module and the runtime. Classes stay in the index.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.modules = nil
	return h.runtime.Close(ctx)
}

func signature(def api.FunctionDefinition) string {
	var b strings.Builder
	b.WriteString("func(")
	for i, p := range def.ParamTypes() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteByte(')')

	results := def.ResultTypes()
	switch len(results) {
	case 0:
	case 1:
		b.WriteByte(' ')
		b.WriteString(api.ValueTypeName(results[0]))
	default:
		b.WriteString(" (")
		for i, r := range results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(api.ValueTypeName(r))
		}
		b.WriteByte(')')
	}
	return b.String()
}

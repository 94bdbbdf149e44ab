package config

import (
	"context"
	"os"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/host/wasmhost"
	"github.com/wippyai/starbridge/runtime"
	"github.com/wippyai/starbridge/shared"
)

// Environment is a runtime built from a Config together with the host
// resources it owns.
type Environment struct {
	Runtime *runtime.Runtime
	Host    host.Host
	wasm    *wasmhost.Host
}

// Close closes the runtime and then the wasm host, if any.
func (e *Environment) Close(ctx context.Context) error {
	err := e.Runtime.Close(ctx)
	if e.wasm != nil {
		err = multierr.Append(err, e.wasm.Close(ctx))
	}
	return err
}

// NewEnvironment builds the host and runtime described by c. Extra options
// are applied after the ones derived from c.
func (c *Config) NewEnvironment(ctx context.Context, extra ...runtime.Option) (*Environment, error) {
	strategy, err := shared.ParseStrategy(c.Strategy)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "strategy")
	}

	env := &Environment{}
	h, err := c.buildHost(ctx, env)
	if err != nil {
		if env.wasm != nil {
			err = multierr.Append(err, env.wasm.Close(ctx))
		}
		return nil, err
	}
	env.Host = h

	opts := []runtime.Option{
		runtime.WithIncludePaths(c.IncludePaths...),
		runtime.WithSharedModules(c.SharedModules...),
		runtime.WithSharedArgv(c.SharedArgv...),
		runtime.WithStrategy(strategy),
		runtime.WithRedirectOutput(c.RedirectOutput),
	}
	if h != nil {
		opts = append(opts, runtime.WithHost(h))
	}
	opts = append(opts, extra...)

	rt, err := runtime.New(ctx, opts...)
	if err != nil {
		if env.wasm != nil {
			err = multierr.Append(err, env.wasm.Close(ctx))
		}
		return nil, err
	}
	env.Runtime = rt
	return env, nil
}

func (c *Config) buildHost(ctx context.Context, env *Environment) (host.Host, error) {
	var h host.Host
	switch c.Host.Enquirer {
	case "", EnquirerNone:
		return nil, nil

	case EnquirerIndex:
		w := wasmhost.New(ctx, &wasmhost.Config{MemoryLimitPages: c.Host.MemoryLimitPages})
		env.wasm = w
		if err := loadWasmModules(ctx, w, c.Host.WasmModules); err != nil {
			return nil, err
		}
		h = w

	case EnquirerClassPath:
		cp, err := host.ScanClassPath(c.Host.ClassPath...)
		if err != nil {
			return nil, err
		}
		h = cp

	case EnquirerNaming:
		naming := host.NewNamingConvention(true, c.Host.TopLevel...)
		var loader host.ClassLoader = host.NewIndex()
		if len(c.Host.ClassPath) > 0 {
			cp, err := host.ScanClassPath(c.Host.ClassPath...)
			if err != nil {
				return nil, err
			}
			loader = cp
		}
		h = host.Compose(naming, loader)

	default:
		return nil, errors.InvalidInput(errors.PhaseConfig, "unknown enquirer "+c.Host.Enquirer)
	}

	if len(c.Host.ScriptPackages) > 0 {
		h = host.Compose(host.NewScriptFirst(h, c.Host.ScriptPackages...), h)
	}
	Logger().Debug("host built",
		zap.String("enquirer", c.Host.Enquirer),
		zap.Strings("script_packages", c.Host.ScriptPackages))
	return h, nil
}

func loadWasmModules(ctx context.Context, w *wasmhost.Host, modules map[string]string) error {
	pkgs := make([]string, 0, len(modules))
	for pkg := range modules {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)

	for _, pkg := range pkgs {
		data, err := os.ReadFile(modules[pkg])
		if err != nil {
			return errors.Load(pkg, err)
		}
		if err := w.Load(ctx, pkg, data); err != nil {
			return err
		}
	}
	return nil
}

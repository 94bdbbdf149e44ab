package runtime

import (
	"io"
	"os"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/shared"
)

// NativeLoader builds a Go-native module. It runs once per instance that
// imports the module, or once per process for a shared module.
type NativeLoader func(thread *starlark.Thread, name string) (starlark.Value, error)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	host           host.Host
	output         io.Writer
	natives        map[string]NativeLoader
	includePaths   []string
	sharedModules  []string
	sharedArgv     []string
	workerArgv     []string
	hooks          []Hook
	strategy       shared.Strategy
	redirectOutput bool
}

func defaultOptions() *options {
	return &options{
		output:  os.Stdout,
		natives: builtinNatives(),
	}
}

// WithIncludePaths sets the directories searched for script modules, in order.
func WithIncludePaths(paths ...string) Option {
	return func(o *options) {
		o.includePaths = append(o.includePaths, paths...)
	}
}

// WithHost sets the host object system projected into every instance.
func WithHost(h host.Host) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithSharedModules sets the allow-list of module prefixes shared across workers.
func WithSharedModules(prefixes ...string) Option {
	return func(o *options) {
		o.sharedModules = append(o.sharedModules, prefixes...)
	}
}

// WithStrategy sets when workers receive shared modules.
func WithStrategy(s shared.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithSharedArgv sets argv seen by modules imported into the main instance.
func WithSharedArgv(argv ...string) Option {
	return func(o *options) {
		o.sharedArgv = argv
	}
}

// WithWorkerArgv sets argv seen by scripts running in workers.
func WithWorkerArgv(argv ...string) Option {
	return func(o *options) {
		o.workerArgv = argv
	}
}

// WithOutput sets where print writes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithRedirectOutput sends print output to the logger instead of the output
// writer.
func WithRedirectOutput(redirect bool) Option {
	return func(o *options) {
		o.redirectOutput = redirect
	}
}

// WithHook registers a worker lifecycle hook.
func WithHook(h Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, h)
	}
}

// WithNativeModule registers a Go-native module under name, replacing any
// built-in module of the same name.
func WithNativeModule(name string, loader NativeLoader) Option {
	return func(o *options) {
		o.natives[name] = loader
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.starlark.net/starlark"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/starbridge/config"
	"github.com/wippyai/starbridge/host"
	"github.com/wippyai/starbridge/host/wasmhost"
	"github.com/wippyai/starbridge/importer"
	"github.com/wippyai/starbridge/javaimport"
	"github.com/wippyai/starbridge/runtime"
	"github.com/wippyai/starbridge/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "run [script.star] [args...]",
		Short: "Run a Starlark script with host packages and shared modules",
		Long: `Run a Starlark script in one or more workers.

Host packages are loaded with load("java.util", "ArrayList"), script modules
from the include path with load("lib/util.star", "name"), and modules listed
with --shared are imported once and shared by every worker.

Without a script, or with -i, an interactive prompt is started. Flags may
also be set through STARBRIDGE_* environment variables.`,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), v, args)
		},
	}

	f := cmd.Flags()
	f.SetInterspersed(false)
	f.String("config", "", "YAML configuration file")
	f.StringSliceP("include", "I", nil, "directory searched for script modules (repeatable)")
	f.StringSlice("shared", nil, "module prefix shared across workers (repeatable)")
	f.String("strategy", "", "when workers receive shared modules: lazy or eager")
	f.String("classpath", "", "class path entries, separated by "+string(os.PathListSeparator))
	f.String("enquirer", "", "host enquirer: none, index, classpath or naming")
	f.IntP("workers", "n", 1, "number of concurrent workers running the script")
	f.BoolP("interactive", "i", false, "start an interactive prompt")
	f.StringP("eval", "e", "", "evaluate an expression and print the result")
	f.String("log-level", "", "log level: debug, info, warn or error")

	_ = v.BindPFlags(f)
	v.SetEnvPrefix("STARBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

// loadConfig reads the configuration file, if any, and layers flags and
// environment variables over it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if v.IsSet("include") {
		cfg.IncludePaths = append(cfg.IncludePaths, v.GetStringSlice("include")...)
	}
	if v.IsSet("shared") {
		cfg.SharedModules = append(cfg.SharedModules, v.GetStringSlice("shared")...)
	}
	if v.IsSet("strategy") {
		cfg.Strategy = v.GetString("strategy")
	}
	if v.IsSet("classpath") {
		cfg.Host.ClassPath = append(cfg.Host.ClassPath, host.SplitClassPath(v.GetString("classpath"))...)
		if cfg.Host.Enquirer == config.EnquirerNone {
			cfg.Host.Enquirer = config.EnquirerClassPath
		}
	}
	if v.IsSet("enquirer") {
		cfg.Host.Enquirer = v.GetString("enquirer")
	}
	if v.IsSet("log-level") {
		cfg.Log.Level = v.GetString("log-level")
	}
	return cfg, cfg.Validate()
}

func setLoggers(l *zap.Logger) {
	host.SetLogger(l)
	wasmhost.SetLogger(l)
	importer.SetLogger(l)
	javaimport.SetLogger(l)
	shared.SetLogger(l)
	runtime.SetLogger(l)
	config.SetLogger(l)
}

func execute(ctx context.Context, v *viper.Viper, args []string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	setLoggers(logger)

	env, err := cfg.NewEnvironment(ctx, runtime.WithWorkerArgv(args...))
	if err != nil {
		return err
	}
	defer env.Close(ctx)

	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	switch {
	case v.GetString("eval") != "":
		return evalExpr(ctx, env, v.GetString("eval"))
	case v.GetBool("interactive"), len(args) == 0 && stdinTTY:
		return runInteractive(ctx, env)
	}

	var name string
	var src []byte
	if len(args) == 0 {
		name = "<stdin>"
		src, err = io.ReadAll(os.Stdin)
	} else {
		name = args[0]
		src, err = os.ReadFile(name)
	}
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return runScript(ctx, env, name, src, v.GetInt("workers"))
}

func evalExpr(ctx context.Context, env *config.Environment, expr string) error {
	w, err := env.Runtime.NewWorker(ctx)
	if err != nil {
		return err
	}
	defer w.Close(ctx)

	val, err := w.Run(ctx, expr)
	if err != nil {
		return err
	}
	if val != starlark.None {
		fmt.Println(val)
	}
	return nil
}

// runScript executes src in n workers at once and waits for all of them.
func runScript(ctx context.Context, env *config.Environment, name string, src []byte, n int) error {
	if n < 1 {
		n = 1
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for range n {
		w, err := env.Runtime.NewWorker(ctx)
		if err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Exec(ctx, name, src)
			err = multierr.Append(err, w.Close(ctx))
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", w.Name(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if r := env.Runtime.Registry(); r != nil {
		runtime.Logger().Debug("shared modules",
			zap.Int("loaded", len(r.Snapshot())),
			zap.Strings("prefixes", r.Prefixes()))
	}
	return errs
}

package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/starbridge/errors"
)

// Host enquirer kinds.
const (
	EnquirerNone      = "none"
	EnquirerIndex     = "index"
	EnquirerClassPath = "classpath"
	EnquirerNaming    = "naming"
)

// Config describes one runtime: where scripts live, what is shared between
// workers, and which host object system is projected into them.
type Config struct {
	Host           HostConfig `yaml:"host"`
	Log            LogConfig  `yaml:"log"`
	Strategy       string     `yaml:"strategy" validate:"omitempty,oneof=lazy eager"`
	IncludePaths   []string   `yaml:"include_paths" validate:"dive,required"`
	SharedModules  []string   `yaml:"shared_modules" validate:"dive,dotted"`
	SharedArgv     []string   `yaml:"shared_argv"`
	RedirectOutput bool       `yaml:"redirect_output"`
}

// HostConfig selects and configures the host enquirer.
type HostConfig struct {
	WasmModules      map[string]string `yaml:"wasm_modules" validate:"dive,keys,dotted,endkeys,required"`
	Enquirer         string            `yaml:"enquirer" validate:"omitempty,oneof=none index classpath naming"`
	ClassPath        []string          `yaml:"classpath" validate:"dive,required"`
	TopLevel         []string          `yaml:"top_level" validate:"dive,dotted"`
	ScriptPackages   []string          `yaml:"script_packages" validate:"dive,dotted"`
	MemoryLimitPages uint32            `yaml:"memory_limit_pages"`
}

// LogConfig configures the zap logger built by NewLogger.
type LogConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

var (
	validate   = newValidator()
	dottedName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("dotted", func(fl validator.FieldLevel) bool {
		return dottedName.MatchString(fl.Field().String())
	})
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Strategy: "lazy",
		Host:     HostConfig{Enquirer: EnquirerNone},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads and validates a YAML configuration file. Relative include
// paths, class path entries and wasm module files are resolved against the
// file's directory.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open "+path)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates a YAML configuration. Unknown fields are
// rejected and an empty document yields the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.ParseFailed("config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints. All violations are reported together.
func (c *Config) Validate() error {
	var errs error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !stderrors.As(err, &verrs) {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "validate")
		}
		for _, fe := range verrs {
			errs = multierr.Append(errs, errors.InvalidData(errors.PhaseConfig,
				fieldPath(fe.Namespace()),
				describe(fe)))
		}
	}

	if len(c.Host.WasmModules) > 0 && c.Host.Enquirer != EnquirerIndex {
		errs = multierr.Append(errs, errors.InvalidData(errors.PhaseConfig,
			[]string{"host", "wasm_modules"},
			"wasm modules require enquirer \"index\""))
	}
	if c.Host.Enquirer == EnquirerClassPath && len(c.Host.ClassPath) == 0 {
		errs = multierr.Append(errs, errors.InvalidData(errors.PhaseConfig,
			[]string{"host", "classpath"},
			"enquirer \"classpath\" needs at least one entry"))
	}
	return errs
}

// NewLogger builds a zap logger from the log section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
		}
		zc.Level = level
	}
	return zc.Build()
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for n, p := range c.IncludePaths {
		c.IncludePaths[n] = abs(p)
	}
	for n, p := range c.Host.ClassPath {
		c.Host.ClassPath[n] = abs(p)
	}
	for pkg, p := range c.Host.WasmModules {
		c.Host.WasmModules[pkg] = abs(p)
	}
}

// fieldPath turns "Config.host.wasm_modules[calc]" into its yaml path.
func fieldPath(ns string) []string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return parts
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "dotted":
		return fmt.Sprintf("not a dotted name: %v", fe.Value())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "required":
		return "must not be empty"
	}
	return "failed " + fe.Tag() + " check"
}

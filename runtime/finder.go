package runtime

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/wippyai/starbridge/errors"
	"github.com/wippyai/starbridge/host"
)

const (
	scriptExt   = ".star"
	packageInit = "__init__" + scriptExt
)

// scriptFinder resolves native modules and script modules found on the
// include path. It is the last finder of every chain.
type scriptFinder struct {
	i *Interpreter
}

// source is where a script module lives on disk.
type source struct {
	path      string // file to execute, empty for a namespace module
	namespace bool
}

func (f *scriptFinder) Find(ctx context.Context, name string) (starlark.Value, bool, error) {
	i := f.i
	if loader, ok := i.rt.opts.natives[name]; ok {
		v, err := f.loadNative(ctx, name, loader)
		return v, true, err
	}

	src, ok := f.locate(name)
	if !ok {
		return nil, false, nil
	}

	if slices.Contains(i.loading, name) {
		return nil, true, errors.Cycle(append(slices.Clone(i.loading), name))
	}

	// a package init loading its own submodule must not import itself;
	// the submodule is attached once the package finishes
	parent, leaf := host.SplitName(name)
	var parentValue starlark.Value
	if parent != "" && !slices.Contains(i.loading, parent) {
		pv, err := i.im.Import(ctx, parent)
		if err != nil {
			return nil, true, err
		}
		parentValue = pv
		// the parent may have imported this module while it loaded
		if v, ok := i.im.Table.Get(name); ok {
			return v, true, nil
		}
	}

	var m *Module
	if src.namespace {
		m = newModule(name, "", i.id, nil)
	} else {
		var err error
		if m, err = f.exec(ctx, name, src.path); err != nil {
			return nil, true, err
		}
	}

	f.adoptChildren(m)
	if pm, ok := parentValue.(*Module); ok && pm.Owner() == i.id {
		pm.set(leaf, m)
	}
	Logger().Debug("loaded module",
		zap.String("instance", i.Name()),
		zap.String("module", name),
		zap.String("path", src.path))
	return m, true, nil
}

// locate searches the include path for name. A file module wins over a
// package directory in the same include path entry; a directory without
// an init file is a namespace module.
func (f *scriptFinder) locate(name string) (source, bool) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/"))
	for _, dir := range f.i.rt.opts.includePaths {
		base := filepath.Join(dir, rel)
		if isFile(base + scriptExt) {
			return source{path: base + scriptExt}, true
		}
		if isFile(filepath.Join(base, packageInit)) {
			return source{path: filepath.Join(base, packageInit)}, true
		}
		if isDir(base) {
			return source{namespace: true}, true
		}
	}
	return source{}, false
}

func (f *scriptFinder) exec(ctx context.Context, name, path string) (*Module, error) {
	i := f.i
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load(name, err)
	}

	file, prog, err := starlark.SourceProgramOptions(fileOptions(), path, data, i.predeclared.Has)
	if err != nil {
		return nil, errors.ParseFailed(path, err)
	}

	i.loading = append(i.loading, name)
	defer func() { i.loading = i.loading[:len(i.loading)-1] }()

	globals, err := i.run(ctx, name, file, func(thread *starlark.Thread) (starlark.StringDict, error) {
		return prog.Init(thread, i.predeclared)
	})
	if err != nil {
		return nil, errors.Load(name, err)
	}
	return newModule(name, path, i.id, globals), nil
}

// adoptChildren binds submodules loaded while m was executing as attributes
// of m, unless m defines a global of the same name.
func (f *scriptFinder) adoptChildren(m *Module) {
	for child, v := range f.i.im.Table.Under(m.name) {
		parent, leaf := host.SplitName(child)
		if parent != m.name {
			continue
		}
		if existing, _ := m.Attr(leaf); existing == nil {
			m.set(leaf, v)
		}
	}
}

func (f *scriptFinder) loadNative(ctx context.Context, name string, loader NativeLoader) (starlark.Value, error) {
	var v starlark.Value
	_, err := f.i.run(ctx, name, nil, func(thread *starlark.Thread) (starlark.StringDict, error) {
		var err error
		v, err = loader(thread, name)
		return nil, err
	})
	if err != nil {
		return nil, errors.Load(name, err)
	}
	if v == nil {
		return nil, errors.Load(name, errors.InvalidData(errors.PhaseLoad, nil, "native loader returned no value"))
	}
	v.Freeze()
	return v, nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

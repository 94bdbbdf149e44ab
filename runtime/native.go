package runtime

import (
	starlarkJSON "go.starlark.net/lib/json"
	starlarkMath "go.starlark.net/lib/math"
	starlarkTime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Native module names available in every instance.
const (
	namespaceJSON = "json"
	namespaceMath = "math"
	namespaceTime = "time"
)

func builtinNatives() map[string]NativeLoader {
	return map[string]NativeLoader{
		namespaceJSON: staticModule(starlarkJSON.Module),
		namespaceMath: staticModule(starlarkMath.Module),
		namespaceTime: staticModule(starlarkTime.Module),
	}
}

func staticModule(m *starlarkstruct.Module) NativeLoader {
	return func(*starlark.Thread, string) (starlark.Value, error) {
		return m, nil
	}
}

package javaimport

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/wippyai/starbridge/host"
)

// Class is the script-side handle of a resolved host class. It is immutable.
type Class struct {
	handle host.ClassHandle
}

var (
	_ starlark.Value    = (*Class)(nil)
	_ starlark.HasAttrs = (*Class)(nil)
)

func newClass(h *host.ClassHandle) *Class {
	return &Class{handle: *h}
}

// Handle returns a copy of the underlying class handle.
func (c *Class) Handle() host.ClassHandle { return c.handle }

func (c *Class) String() string        { return fmt.Sprintf("<class %s>", c.handle.Name) }
func (c *Class) Type() string          { return "class" }
func (c *Class) Freeze()               {}
func (c *Class) Truth() starlark.Bool  { return starlark.True }
func (c *Class) Hash() (uint32, error) { return starlark.String(c.handle.Name).Hash() }

var classAttrs = []string{"name", "package", "signature", "simple_name", "source"}

func (c *Class) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(c.handle.Name), nil
	case "package":
		return starlark.String(c.handle.Package()), nil
	case "simple_name":
		return starlark.String(c.handle.SimpleName()), nil
	case "source":
		return starlark.String(c.handle.Source), nil
	case "signature":
		return starlark.String(c.handle.Signature), nil
	}
	return nil, nil
}

func (c *Class) AttrNames() []string {
	out := make([]string, len(classAttrs))
	copy(out, classAttrs)
	return out
}

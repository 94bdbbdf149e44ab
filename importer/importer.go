package importer

import (
	"context"

	"go.starlark.net/starlark"
)

// Importer resolves dotted names for one interpreter instance: the module
// table is checked first, then the finder chain. Resolved values are
// registered in the table so repeated imports return the identical value.
type Importer struct {
	Table *Table
	Chain *Chain
}

// New creates an importer with an empty table and chain.
func New() *Importer {
	return &Importer{Table: NewTable(), Chain: NewChain()}
}

// Import returns the module value for name.
func (im *Importer) Import(ctx context.Context, name string) (starlark.Value, error) {
	if v, ok := im.Table.Get(name); ok {
		return v, nil
	}
	v, err := im.Chain.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return im.Table.PutIfAbsent(name, v), nil
}

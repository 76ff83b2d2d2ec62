package vars

import (
	"context"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

// ScopeRef identifies one durable variable set, e.g. environment "staging".
type ScopeRef struct {
	Scope core.Scope
	ID    string
}

// String returns "scope/id".
func (r ScopeRef) String() string {
	return string(r.Scope) + "/" + r.ID
}

// Change is one staged mutation. Deleted marks a tombstone.
type Change struct {
	Name    string
	Value   interface{}
	Deleted bool
}

// Backend persists durable scopes. Apply must apply each change atomically
// per key; concurrent runs sharing a scope see last-write-wins.
type Backend interface {
	Load(ctx context.Context, ref ScopeRef) (map[string]interface{}, error)
	Apply(ctx context.Context, ref ScopeRef, changes []Change) error
}

package core

import "fmt"

// Scope names one of the four variable namespaces.
type Scope string

const (
	ScopeRuntime     Scope = "runtime"
	ScopeEnvironment Scope = "environment"
	ScopeCollection  Scope = "collection"
	ScopeGlobal      Scope = "global"
)

// DurableScopes lists the persisted scopes in read precedence order.
var DurableScopes = []Scope{ScopeEnvironment, ScopeCollection, ScopeGlobal}

// IsDurable reports whether writes to the scope outlive a run.
func (s Scope) IsDurable() bool {
	return s == ScopeEnvironment || s == ScopeCollection || s == ScopeGlobal
}

// ParseScope accepts the canonical names plus a few common aliases.
// An empty string means runtime.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "runtime", "local", "vars", "variables":
		return ScopeRuntime, nil
	case "environment", "env":
		return ScopeEnvironment, nil
	case "collection":
		return ScopeCollection, nil
	case "global", "globals":
		return ScopeGlobal, nil
	}
	return "", fmt.Errorf("unknown variable scope %q", s)
}

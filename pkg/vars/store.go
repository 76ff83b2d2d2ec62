// Package vars implements the four-scope variable store used during a run.
//
// The runtime scope lives for one run. Environment, collection and global
// scopes are loaded from a Backend at run start; writes to them are staged
// in a pending overlay (unset is a tombstone) and only reach the Backend on
// Flush. Reads see pending writes before the loaded values.
package vars

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

// DefaultGlobalID is the global scope reference used when none is given.
const DefaultGlobalID = "default"

// Refs selects the durable variable sets a run reads and writes.
// An empty environment or collection ID disables persistence for that scope.
type Refs struct {
	EnvironmentID string
	CollectionID  string
	GlobalID      string
}

type pendingValue struct {
	value   interface{}
	deleted bool
}

// Store is the layered variable resolver for one run. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	refs     map[core.Scope]ScopeRef
	builtins map[string]interface{}
	runtime  map[string]interface{}
	durable  map[core.Scope]map[string]interface{}
	pending  map[core.Scope]map[string]pendingValue
}

// NewStore creates a store over backend. A nil backend keeps durable
// scopes in memory for the lifetime of the store.
func NewStore(backend Backend, refs Refs) *Store {
	if refs.GlobalID == "" {
		refs.GlobalID = DefaultGlobalID
	}
	s := &Store{
		backend:  backend,
		refs:     make(map[core.Scope]ScopeRef),
		builtins: make(map[string]interface{}),
		runtime:  make(map[string]interface{}),
		durable:  make(map[core.Scope]map[string]interface{}),
		pending:  make(map[core.Scope]map[string]pendingValue),
	}
	if refs.EnvironmentID != "" {
		s.refs[core.ScopeEnvironment] = ScopeRef{Scope: core.ScopeEnvironment, ID: refs.EnvironmentID}
	}
	if refs.CollectionID != "" {
		s.refs[core.ScopeCollection] = ScopeRef{Scope: core.ScopeCollection, ID: refs.CollectionID}
	}
	s.refs[core.ScopeGlobal] = ScopeRef{Scope: core.ScopeGlobal, ID: refs.GlobalID}
	for _, scope := range core.DurableScopes {
		s.durable[scope] = make(map[string]interface{})
		s.pending[scope] = make(map[string]pendingValue)
	}
	return s
}

// Load reads every referenced durable scope from the backend, replacing
// the loaded snapshots. Pending writes are kept.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	for _, scope := range core.DurableScopes {
		ref, ok := s.refs[scope]
		if !ok {
			continue
		}
		values, err := s.backend.Load(ctx, ref)
		if err != nil {
			return fmt.Errorf("load %s variables: %w", ref, err)
		}
		s.mu.Lock()
		s.durable[scope] = copyMap(values)
		s.mu.Unlock()
	}
	return nil
}

// Get resolves name. Precedence: built-ins, runtime, then for each of
// environment, collection, global the pending write before the loaded value.
func (s *Store) Get(name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.builtins[name]; ok {
		return v, true
	}
	if v, ok := s.runtime[name]; ok {
		return v, true
	}
	for _, scope := range core.DurableScopes {
		if v, ok := s.lookupDurable(scope, name); ok {
			return v, true
		}
	}
	return nil, false
}

// lookupDurable checks one scope. A tombstone hides the loaded value but
// lets lower scopes answer.
func (s *Store) lookupDurable(scope core.Scope, name string) (interface{}, bool) {
	if p, ok := s.pending[scope][name]; ok {
		if p.deleted {
			return nil, false
		}
		return p.value, true
	}
	v, ok := s.durable[scope][name]
	return v, ok
}

// GetIn resolves name within a single scope.
func (s *Store) GetIn(scope core.Scope, name string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope == core.ScopeRuntime {
		if v, ok := s.builtins[name]; ok {
			return v, true
		}
		v, ok := s.runtime[name]
		return v, ok
	}
	return s.lookupDurable(scope, name)
}

// Has reports whether name resolves in any scope.
func (s *Store) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Set writes name in scope. Durable writes are staged until Flush.
func (s *Store) Set(scope core.Scope, name string, value interface{}) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == core.ScopeRuntime {
		s.runtime[name] = value
		return nil
	}
	p, ok := s.pending[scope]
	if !ok {
		return fmt.Errorf("unknown variable scope %q", scope)
	}
	p[name] = pendingValue{value: value}
	return nil
}

// Unset removes name from scope. Durable removals are staged as tombstones.
func (s *Store) Unset(scope core.Scope, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == core.ScopeRuntime {
		delete(s.runtime, name)
		return nil
	}
	p, ok := s.pending[scope]
	if !ok {
		return fmt.Errorf("unknown variable scope %q", scope)
	}
	p[name] = pendingValue{deleted: true}
	return nil
}

// Clear removes every variable visible in scope.
func (s *Store) Clear(scope core.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope == core.ScopeRuntime {
		s.runtime = make(map[string]interface{})
		return nil
	}
	p, ok := s.pending[scope]
	if !ok {
		return fmt.Errorf("unknown variable scope %q", scope)
	}
	for name := range s.durable[scope] {
		p[name] = pendingValue{deleted: true}
	}
	for name := range p {
		p[name] = pendingValue{deleted: true}
	}
	return nil
}

// Apply merges script updates in order. Every update is attempted; the
// first error is returned.
func (s *Store) Apply(updates []core.VarUpdate) error {
	var first error
	for _, u := range updates {
		var err error
		switch {
		case u.Clear:
			err = s.Clear(u.Scope)
		case u.Unset:
			err = s.Unset(u.Scope, u.Name)
		default:
			err = s.Set(u.Scope, u.Name, u.Value)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetBuiltins replaces the built-in layer.
func (s *Store) SetBuiltins(values map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtins = copyMap(values)
}

// Snapshot returns the merged view of all scopes.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{})
	for i := len(core.DurableScopes) - 1; i >= 0; i-- {
		for k, v := range s.scopeView(core.DurableScopes[i]) {
			out[k] = v
		}
	}
	for k, v := range s.runtime {
		out[k] = v
	}
	for k, v := range s.builtins {
		out[k] = v
	}
	return out
}

// ScopeSnapshot returns the visible variables of one scope.
func (s *Store) ScopeSnapshot(scope core.Scope) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope == core.ScopeRuntime {
		return copyMap(s.runtime)
	}
	return s.scopeView(scope)
}

func (s *Store) scopeView(scope core.Scope) map[string]interface{} {
	out := copyMap(s.durable[scope])
	for name, p := range s.pending[scope] {
		if p.deleted {
			delete(out, name)
		} else {
			out[name] = p.value
		}
	}
	return out
}

// HasPending reports whether any durable write is staged.
func (s *Store) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pending {
		if len(p) > 0 {
			return true
		}
	}
	return false
}

// Flush pushes staged durable writes to the backend, one Apply per scope,
// and folds them into the loaded snapshots. Writes to a scope without a
// reference are dropped. On error the failed scope keeps its pending
// writes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, scope := range core.DurableScopes {
		pending := s.pending[scope]
		if len(pending) == 0 {
			continue
		}
		ref, ok := s.refs[scope]
		if !ok {
			s.pending[scope] = make(map[string]pendingValue)
			continue
		}

		if s.backend != nil {
			if err := s.backend.Apply(ctx, ref, changeList(pending)); err != nil {
				return fmt.Errorf("flush %s variables: %w", ref, err)
			}
		}
		for name, p := range pending {
			if p.deleted {
				delete(s.durable[scope], name)
			} else {
				s.durable[scope][name] = p.value
			}
		}
		s.pending[scope] = make(map[string]pendingValue)
	}
	return nil
}

// Discard drops all staged durable writes.
func (s *Store) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scope := range core.DurableScopes {
		s.pending[scope] = make(map[string]pendingValue)
	}
}

func changeList(pending map[string]pendingValue) []Change {
	changes := make([]Change, 0, len(pending))
	for name, p := range pending {
		changes = append(changes, Change{Name: name, Value: p.value, Deleted: p.deleted})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

func checkName(name string) error {
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if IsBuiltin(name) {
		return core.ErrReadOnlyVariable.WithMessage(fmt.Sprintf("variable %s is read-only", name))
	}
	return nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

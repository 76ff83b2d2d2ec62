package vars

import (
	"sync"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

// Recorder applies script writes to a Store immediately, so later reads in
// the same script see them, and keeps the list of applied updates for the
// script result.
type Recorder struct {
	store *Store

	mu      sync.Mutex
	updates []core.VarUpdate
}

// Record returns a Recorder writing through to s.
func (s *Store) Record() *Recorder {
	return &Recorder{store: s}
}

// Get implements template.Lookup.
func (r *Recorder) Get(name string) (interface{}, bool) { return r.store.Get(name) }

// GetIn resolves name within one scope.
func (r *Recorder) GetIn(scope core.Scope, name string) (interface{}, bool) {
	return r.store.GetIn(scope, name)
}

// Has reports whether name resolves in any scope.
func (r *Recorder) Has(name string) bool { return r.store.Has(name) }

// Snapshot returns the merged view of all scopes.
func (r *Recorder) Snapshot() map[string]interface{} { return r.store.Snapshot() }

// ScopeSnapshot returns the visible variables of one scope.
func (r *Recorder) ScopeSnapshot(scope core.Scope) map[string]interface{} {
	return r.store.ScopeSnapshot(scope)
}

// Set writes and records name.
func (r *Recorder) Set(scope core.Scope, name string, value interface{}) error {
	if err := r.store.Set(scope, name, value); err != nil {
		return err
	}
	r.add(core.VarUpdate{Scope: scope, Name: name, Value: value})
	return nil
}

// Unset removes and records name.
func (r *Recorder) Unset(scope core.Scope, name string) error {
	if err := r.store.Unset(scope, name); err != nil {
		return err
	}
	r.add(core.VarUpdate{Scope: scope, Name: name, Unset: true})
	return nil
}

// Clear empties and records scope.
func (r *Recorder) Clear(scope core.Scope) error {
	if err := r.store.Clear(scope); err != nil {
		return err
	}
	r.add(core.VarUpdate{Scope: scope, Clear: true})
	return nil
}

// Updates returns the applied updates in order.
func (r *Recorder) Updates() []core.VarUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.VarUpdate, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *Recorder) add(u core.VarUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

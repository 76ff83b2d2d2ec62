// Package memory provides in-process implementations of every persistence
// collaborator. It backs the CLI and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// Store holds flows, proxies, history and durable variables in maps.
// It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	flows   map[int64]*flow.Flow
	proxies map[int64]*core.Proxy
	history []store.HistoryEntry
	vars    map[vars.ScopeRef]map[string]interface{}

	nextFlowID    int64
	nextHistoryID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		flows:   make(map[int64]*flow.Flow),
		proxies: make(map[int64]*core.Proxy),
		vars:    make(map[vars.ScopeRef]map[string]interface{}),
	}
}

// GetFlow returns a copy of the flow with id.
func (s *Store) GetFlow(ctx context.Context, id int64) (*flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, fmt.Errorf("flow %d: %w", id, store.ErrNotFound)
	}
	return f.Clone(), nil
}

// ListFlows returns copies of all flows ordered by ID.
func (s *Store) ListFlows(ctx context.Context) ([]*flow.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*flow.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveFlow stores a copy of f, assigning an ID when it has none.
func (s *Store) SaveFlow(ctx context.Context, f *flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		s.nextFlowID++
		for s.flows[s.nextFlowID] != nil {
			s.nextFlowID++
		}
		f.ID = s.nextFlowID
	}
	for i := range f.Steps {
		f.Steps[i].FlowID = f.ID
	}
	s.flows[f.ID] = f.Clone()
	return nil
}

// GetProxy returns the proxy with id.
func (s *Store) GetProxy(ctx context.Context, id int64) (*core.Proxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[id]
	if !ok {
		return nil, fmt.Errorf("proxy %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// SaveProxy inserts or replaces p.
func (s *Store) SaveProxy(ctx context.Context, p *core.Proxy) error {
	if p.ID <= 0 {
		return fmt.Errorf("proxy id must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.proxies[p.ID] = &cp
	return nil
}

// AppendHistory records e and assigns its ID.
func (s *Store) AppendHistory(ctx context.Context, e *store.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHistoryID++
	e.ID = s.nextHistoryID
	s.history = append(s.history, *e)
	return nil
}

// ListHistory returns up to limit entries, newest first. A limit of zero
// or less returns everything.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]store.HistoryEntry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.history[i])
	}
	return out, nil
}

// Load implements vars.Backend.
func (s *Store) Load(ctx context.Context, ref vars.ScopeRef) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.vars[ref]))
	for k, v := range s.vars[ref] {
		out[k] = v
	}
	return out, nil
}

// Apply implements vars.Backend. All changes land under one lock.
func (s *Store) Apply(ctx context.Context, ref vars.ScopeRef, changes []vars.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.vars[ref]
	if !ok {
		m = make(map[string]interface{})
		s.vars[ref] = m
	}
	for _, c := range changes {
		if c.Deleted {
			delete(m, c.Name)
			continue
		}
		m[c.Name] = c.Value
	}
	return nil
}

var (
	_ store.FlowStore    = (*Store)(nil)
	_ store.ProxyStore   = (*Store)(nil)
	_ store.HistoryStore = (*Store)(nil)
	_ vars.Backend       = (*Store)(nil)
)

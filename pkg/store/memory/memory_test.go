package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

func TestFlows(t *testing.T) {
	ctx := context.Background()
	s := New()

	f := &flow.Flow{Name: "users", Steps: []flow.Step{{Name: "list", URL: "https://api.test/users"}}}
	require.NoError(t, s.SaveFlow(ctx, f))
	assert.Equal(t, int64(1), f.ID)

	got, err := s.GetFlow(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "users", got.Name)
	assert.Equal(t, int64(1), got.Steps[0].FlowID)

	got.Steps[0].Name = "mutated"
	again, _ := s.GetFlow(ctx, 1)
	assert.Equal(t, "list", again.Steps[0].Name, "store must hand out copies")

	_, err = s.GetFlow(ctx, 99)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.SaveFlow(ctx, &flow.Flow{ID: 7, Name: "fixed"}))
	list, err := s.ListFlows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(7), list[1].ID)
}

func TestProxies(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveProxy(ctx, &core.Proxy{ID: 3, URL: "http://proxy:8080"}))
	p, err := s.GetProxy(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy:8080", p.URL)

	_, err = s.GetProxy(ctx, 4)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Error(t, s.SaveProxy(ctx, &core.Proxy{}))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, s.AppendHistory(ctx, &store.HistoryEntry{URL: u}))
	}

	list, err := s.ListHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].URL)
	assert.Equal(t, int64(3), list[0].ID)

	all, _ := s.ListHistory(ctx, 0)
	assert.Len(t, all, 3)
}

func TestVariablesBackend(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := vars.ScopeRef{Scope: core.ScopeEnvironment, ID: "dev"}

	require.NoError(t, s.Apply(ctx, ref, []vars.Change{{Name: "token", Value: "abc"}, {Name: "n", Value: 1.0}}))
	require.NoError(t, s.Apply(ctx, ref, []vars.Change{{Name: "n", Deleted: true}}))

	got, err := s.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"token": "abc"}, got)

	other, err := s.Load(ctx, vars.ScopeRef{Scope: core.ScopeEnvironment, ID: "prod"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestVariablesBackend_WithStore(t *testing.T) {
	ctx := context.Background()
	backend := New()
	st := vars.NewStore(backend, vars.Refs{EnvironmentID: "dev"})
	require.NoError(t, st.Load(ctx))
	require.NoError(t, st.Set(core.ScopeEnvironment, "token", "t1"))
	require.NoError(t, st.Flush(ctx))

	next := vars.NewStore(backend, vars.Refs{EnvironmentID: "dev"})
	require.NoError(t, next.Load(ctx))
	v, ok := next.Get("token")
	assert.True(t, ok)
	assert.Equal(t, "t1", v)
}

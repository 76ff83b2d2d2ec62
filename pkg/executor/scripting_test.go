package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// stubEngine records what the adapter hands to the embedded engine.
type stubEngine struct {
	source  string
	timeout time.Duration
	run     func(sc *core.ScriptContext) *core.ScriptResult
}

func (e *stubEngine) Execute(_ context.Context, source string, sc *core.ScriptContext, timeout time.Duration) *core.ScriptResult {
	e.source, e.timeout = source, timeout
	if e.run != nil {
		return e.run(sc)
	}
	return core.NewScriptResult(core.ModeScript)
}

func newStore(t *testing.T, initial map[string]interface{}) *vars.Store {
	t.Helper()
	s := vars.NewStore(nil, vars.Refs{EnvironmentID: "dev"})
	for k, v := range initial {
		if err := s.Set(core.ScopeRuntime, k, v); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestNewScriptAdapter_Defaults(t *testing.T) {
	a := NewScriptAdapter(nil, 0)
	if a.engine == nil {
		t.Error("engine is nil")
	}
	if a.timeout != core.ScriptTimeout {
		t.Errorf("timeout = %v, want %v", a.timeout, core.ScriptTimeout)
	}
}

func TestScriptAdapter_EmptySource(t *testing.T) {
	a := NewScriptAdapter(&stubEngine{}, time.Second)
	if r := a.Run(context.Background(), " \n\t", &core.ScriptContext{Phase: core.PhasePost}, newStore(t, nil)); r != nil {
		t.Errorf("Run() = %+v, want nil", r)
	}
}

func TestScriptAdapter_RoutesDSL(t *testing.T) {
	engine := &stubEngine{}
	a := NewScriptAdapter(engine, time.Second)
	store := newStore(t, nil)

	r := a.Run(context.Background(), `{"setVariables":[{"name":"token","scope":"environment","value":"abc"}]}`,
		&core.ScriptContext{Phase: core.PhasePost, Response: &core.ExecuteResult{StatusCode: 200}}, store)

	if engine.source != "" {
		t.Errorf("engine called with %q", engine.source)
	}
	if r.Mode != core.ModeDSL {
		t.Errorf("Mode = %q, want dsl", r.Mode)
	}
	if len(r.UpdatedVars) != 1 || r.UpdatedVars[0].Scope != core.ScopeEnvironment {
		t.Errorf("UpdatedVars = %+v", r.UpdatedVars)
	}
	if v, _ := store.Get("token"); v != "abc" {
		t.Errorf("token = %v, want abc", v)
	}
	if !store.HasPending() {
		t.Error("durable write is not staged")
	}
}

func TestScriptAdapter_RendersScriptSource(t *testing.T) {
	engine := &stubEngine{run: func(sc *core.ScriptContext) *core.ScriptResult {
		if err := sc.Vars.Set(core.ScopeRuntime, "seen", true); err != nil {
			t.Error(err)
		}
		r := core.NewScriptResult(core.ModeScript)
		r.Directive = core.Goto("next-step")
		return r
	}}
	a := NewScriptAdapter(engine, 2*time.Second)

	r := a.Run(context.Background(), `log("{{user}}")`, &core.ScriptContext{Phase: core.PhasePost}, newStore(t, map[string]interface{}{"user": "ada"}))

	if engine.source != `log("ada")` {
		t.Errorf("source = %q", engine.source)
	}
	if engine.timeout != 2*time.Second {
		t.Errorf("timeout = %v", engine.timeout)
	}
	if len(r.UpdatedVars) != 1 || r.UpdatedVars[0].Name != "seen" {
		t.Errorf("UpdatedVars = %+v", r.UpdatedVars)
	}
	if r.Directive != core.Goto("next-step") {
		t.Errorf("Directive = %v", r.Directive)
	}
}

func TestScriptAdapter_PrePhaseIgnoresDirective(t *testing.T) {
	engine := &stubEngine{run: func(*core.ScriptContext) *core.ScriptResult {
		r := core.NewScriptResult(core.ModeScript)
		r.Directive = core.Stop()
		return r
	}}
	a := NewScriptAdapter(engine, time.Second)

	r := a.Run(context.Background(), "noop()", &core.ScriptContext{Phase: core.PhasePre}, newStore(t, nil))
	if r.Directive != core.Next() {
		t.Errorf("Directive = %v, want next", r.Directive)
	}
}

func TestScriptAdapter_NilEngineResult(t *testing.T) {
	engine := &stubEngine{run: func(*core.ScriptContext) *core.ScriptResult { return nil }}
	r := NewScriptAdapter(engine, time.Second).Run(context.Background(), "noop()", &core.ScriptContext{Phase: core.PhasePost}, newStore(t, nil))
	if r == nil || !r.Success || r.Directive != core.Next() {
		t.Errorf("Run() = %+v", r)
	}
}

func TestScriptAdapter_GojaTimeout(t *testing.T) {
	a := NewScriptAdapter(nil, 50*time.Millisecond)
	r := a.Run(context.Background(), "while (true) {}", &core.ScriptContext{Phase: core.PhasePost}, newStore(t, nil))

	if r.Success {
		t.Fatal("Success = true, want false")
	}
	if !errors.Is(scriptFailure(r, core.PhasePost), core.ErrScriptTimeout) {
		t.Errorf("failure = %v, want script_timeout", scriptFailure(r, core.PhasePost))
	}
}

func TestScriptFailure(t *testing.T) {
	tests := []struct {
		name   string
		result *core.ScriptResult
		want   *core.ExecutionError
	}{
		{"cause wins", &core.ScriptResult{Success: false, Cause: core.ErrScriptHTTPQuota}, core.ErrScriptHTTPQuota},
		{"script error", &core.ScriptResult{Success: false, Errors: []core.ScriptError{{Message: "boom"}}}, core.ErrScriptRuntime},
		{"assertion", &core.ScriptResult{Success: true, AssertionsFailed: 2}, core.ErrAssertionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scriptFailure(tt.result, core.PhasePost)
			if !errors.Is(err, tt.want) {
				t.Errorf("scriptFailure() = %v, want %v", err, tt.want)
			}
		})
	}
}

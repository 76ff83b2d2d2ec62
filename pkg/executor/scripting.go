package executor

import (
	"context"
	"strings"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/dsl"
	"github.com/devicelab-dev/apiflow/pkg/jsengine"
	"github.com/devicelab-dev/apiflow/pkg/template"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// ScriptEngine executes embedded (non-DSL) scripts against a capability
// context. Implementations must honour ctx and timeout.
type ScriptEngine interface {
	Execute(ctx context.Context, source string, sc *core.ScriptContext, timeout time.Duration) *core.ScriptResult
}

// ScriptAdapter routes step scripts to the DSL interpreter or the embedded
// script engine and collects the variable writes they make.
type ScriptAdapter struct {
	engine  ScriptEngine
	timeout time.Duration
}

// NewScriptAdapter creates an adapter. A nil engine selects the goja engine.
func NewScriptAdapter(engine ScriptEngine, timeout time.Duration) *ScriptAdapter {
	if engine == nil {
		engine = jsengine.Runner{}
	}
	if timeout <= 0 {
		timeout = core.ScriptTimeout
	}
	return &ScriptAdapter{engine: engine, timeout: timeout}
}

// Run executes source for one phase. Writes go to store immediately and
// are listed in the result's UpdatedVars. An empty source returns nil.
func (a *ScriptAdapter) Run(ctx context.Context, source string, sc *core.ScriptContext, store *vars.Store) *core.ScriptResult {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	rec := store.Record()
	sc.Vars = rec

	var result *core.ScriptResult
	if dsl.IsDSL(source) {
		// DSL fields are rendered as each entry is evaluated
		result = dsl.Run(source, dsl.Env{Phase: sc.Phase, Vars: rec, Response: sc.Response})
	} else {
		result = a.engine.Execute(ctx, template.Render(source, rec), sc, a.timeout)
	}
	if result == nil {
		result = core.NewScriptResult(core.ModeScript)
	}

	result.UpdatedVars = rec.Updates()
	if sc.Phase == core.PhasePre {
		result.Directive = core.Next()
	}
	result.Directive = result.Directive.Normalize()
	return result
}

// scriptFailure picks the categorised error for a failed script result.
func scriptFailure(r *core.ScriptResult, phase core.Phase) error {
	if r.Cause != nil {
		return r.Cause
	}
	if !r.Success {
		return core.ErrScriptRuntime.WithMessage(string(phase) + "-script failed: " + r.ErrorMessage())
	}
	return core.ErrAssertionFailed.WithDetails(map[string]interface{}{
		"phase":  string(phase),
		"failed": r.AssertionsFailed,
	})
}

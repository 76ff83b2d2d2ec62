package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

func newVars(t *testing.T, initial map[string]interface{}) (*vars.Store, *vars.Recorder) {
	t.Helper()
	s := vars.NewStore(nil, vars.Refs{EnvironmentID: "dev"})
	for k, v := range initial {
		require.NoError(t, s.Set(core.ScopeRuntime, k, v))
	}
	return s, s.Record()
}

func postEnv(rec *vars.Recorder, resp *core.ExecuteResult) Env {
	return Env{Phase: core.PhasePost, Vars: rec, Response: resp}
}

func TestIsDSL(t *testing.T) {
	assert.True(t, IsDSL(`  {"flow": {}}`))
	assert.False(t, IsDSL(`vars.set("a", 1)`))
	assert.False(t, IsDSL(""))
}

func TestRun_StatusAssertionMismatch(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"assertions":[{"type":"status","operator":"eq","value":200}]}`,
		postEnv(rec, &core.ExecuteResult{StatusCode: 404}))

	assert.Equal(t, core.ModeDSL, r.Mode)
	assert.Equal(t, 0, r.AssertionsPassed)
	assert.Equal(t, 1, r.AssertionsFailed)
	assert.True(t, r.Success, "a failed assertion is not a script error")
	assert.True(t, r.Failed())
}

func TestRun_AssertionsIgnoredInPreScript(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"assertions":[{"type":"status","value":200}], "flow": {"action": "stop"}}`,
		Env{Phase: core.PhasePre, Vars: rec})

	assert.Equal(t, 0, r.AssertionsPassed+r.AssertionsFailed)
	assert.Equal(t, core.ActionNext, r.Directive.Action)
	assert.False(t, r.Failed())
}

func TestRun_AssertionValuesRendered(t *testing.T) {
	_, rec := newVars(t, map[string]interface{}{"wantID": 7.0})
	r := Run(`{"assertions":[{"type":"jsonpath","path":"$.id","value":"{{wantID}}"}]}`,
		postEnv(rec, &core.ExecuteResult{Body: `{"id": 7}`}))
	assert.Equal(t, 1, r.AssertionsPassed)
}

func TestRun_SetVariables(t *testing.T) {
	store, rec := newVars(t, map[string]interface{}{"count": 4.0, "first": "Ada", "last": "Lovelace"})
	resp := &core.ExecuteResult{StatusCode: 200, Body: `{"data": {"token": "t-1", "items": [{"id": 9}]}}`}

	src := `{"setVariables": [
		{"name": "greeting", "value": "hello {{first}}"},
		{"name": "token", "from": "$.data.token", "scope": "environment"},
		{"name": "firstId", "type": "extract", "from": "$.data.items[*].id"},
		{"name": "count", "type": "increment"},
		{"name": "count", "type": "increment", "by": 2},
		{"name": "down", "type": "decrement", "by": "3"},
		{"name": "double", "type": "math", "expression": "{{count}} * 2 + count"},
		{"name": "full", "type": "concat", "values": ["{{first}}", "{{last}}"], "separator": " "},
		{"name": "size", "type": "conditional", "condition": "{{count}} > 5", "onTrue": "big", "onFalse": "small"},
		{"name": "literal", "value": [1, "{{first}}"]}
	]}`
	r := Run(src, postEnv(rec, resp))
	require.True(t, r.Success, r.ErrorMessage())

	get := func(name string) interface{} {
		v, _ := store.Get(name)
		return v
	}
	assert.Equal(t, "hello Ada", get("greeting"))
	assert.Equal(t, "t-1", get("token"))
	v, ok := store.GetIn(core.ScopeEnvironment, "token")
	assert.True(t, ok)
	assert.Equal(t, "t-1", v)
	assert.Equal(t, 9.0, get("firstId"))
	assert.Equal(t, 7.0, get("count"))
	assert.Equal(t, -3.0, get("down"))
	assert.Equal(t, 21.0, get("double"))
	assert.Equal(t, "Ada Lovelace", get("full"))
	assert.Equal(t, "big", get("size"))
	assert.Equal(t, []interface{}{1.0, "Ada"}, get("literal"))

	assert.Equal(t, map[string]interface{}{"token": "t-1", "firstId": 9.0}, r.ExtractedVars)
	assert.Len(t, rec.Updates(), 10)
}

func TestRun_ExtractWithoutResponseWarns(t *testing.T) {
	store, rec := newVars(t, nil)
	r := Run(`{"setVariables": [{"name": "id", "from": "$.id"}]}`, Env{Phase: core.PhasePre, Vars: rec})

	assert.True(t, r.Success)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "needs a response")
	assert.False(t, store.Has("id"))
}

func TestRun_ExtractNotFoundWarns(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"setVariables": [{"name": "id", "from": "$.missing"}]}`,
		postEnv(rec, &core.ExecuteResult{Body: `{}`}))
	assert.True(t, r.Success)
	assert.Len(t, r.Warnings, 1)
}

func TestRun_SetVariableErrors(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"setVariables": [
		{"name": "__uuid__", "value": "x"},
		{"name": "bad", "type": "math", "expression": "1 +"},
		{"name": "inc", "type": "increment", "by": "lots"},
		{"name": "ok", "value": 1}
	]}`, postEnv(rec, &core.ExecuteResult{}))

	assert.False(t, r.Success)
	assert.Len(t, r.Errors, 3)
	v, ok := rec.Get("ok")
	assert.True(t, ok, "later entries still apply")
	assert.Equal(t, 1.0, v)
}

func TestRun_ConditionalRepeatUntilCounter(t *testing.T) {
	_, rec := newVars(t, map[string]interface{}{"n": 0.0})
	src := `{"setVariables":[{"name":"n","type":"increment"}],
		"flow":{"type":"conditional","condition":"{{n}} < 3","onTrue":{"action":"repeat"},"onFalse":{"action":"next"}}}`

	var actions []core.Action
	for i := 0; i < 5; i++ {
		r := Run(src, postEnv(rec, &core.ExecuteResult{StatusCode: 200}))
		actions = append(actions, r.Directive.Action)
		if r.Directive.Action == core.ActionNext {
			break
		}
	}
	assert.Equal(t, []core.Action{core.ActionRepeat, core.ActionRepeat, core.ActionNext}, actions)
}

func TestResolveFlow(t *testing.T) {
	_, rec := newVars(t, map[string]interface{}{"status": "done", "next": "cleanup"})

	tests := []struct {
		name string
		src  string
		want core.Directive
	}{
		{"default next", `{"flow": {}}`, core.Next()},
		{"stop", `{"flow": {"action": "stop"}}`, core.Stop()},
		{"goto name", `{"flow": {"action": "goto", "target": "login"}}`, core.Goto("login")},
		{"goto order", `{"flow": {"action": "goto", "target": 3}}`, core.Goto("3")},
		{"goto rendered", `{"flow": {"action": "goto", "target": "{{next}}"}}`, core.Goto("cleanup")},
		{"fatal", `{"flow": {"action": "fatal", "reason": "bad {{status}}"}}`, core.Fatal("bad done")},
		{"switch match", `{"flow": {"type": "switch", "cases": [
			{"condition": "'{{status}}' == 'pending'", "action": "repeat"},
			{"condition": "'{{status}}' == 'done'", "action": "goto", "target": "report"}
		], "default": {"action": "stop"}}}`, core.Goto("report")},
		{"switch default", `{"flow": {"type": "switch", "cases": [
			{"condition": "1 == 2", "action": "repeat"}
		], "default": {"action": "stop"}}}`, core.Stop()},
		{"switch no default", `{"flow": {"type": "switch", "cases": [{"condition": "false", "action": "stop"}]}}`, core.Next()},
		{"nested conditional", `{"flow": {"type": "conditional", "condition": "true",
			"onTrue": {"type": "conditional", "condition": "false", "onTrue": {"action": "stop"}, "onFalse": {"action": "repeat"}}}}`, core.Repeat()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Run(tt.src, postEnv(rec, &core.ExecuteResult{}))
			require.True(t, r.Success, r.ErrorMessage())
			assert.Equal(t, tt.want, r.Directive)
			assert.NoError(t, r.Violation)
		})
	}
}

func TestResolveFlow_MalformedConditionViolates(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"flow": {"type": "conditional", "condition": "== 1", "onTrue": {"action": "stop"}, "onFalse": {"action": "repeat"}}}`,
		postEnv(rec, &core.ExecuteResult{}))

	assert.True(t, r.Success, "the evaluator itself does not fail the script")
	assert.Equal(t, core.ActionRepeat, r.Directive.Action)
	assert.Len(t, r.Warnings, 1)
	assert.ErrorIs(t, r.Violation, core.ErrInvalidCondition)
}

func TestSetVariables_MalformedConditionViolates(t *testing.T) {
	_, rec := newVars(t, nil)
	r := Run(`{"setVariables": [{"name": "size", "type": "conditional", "condition": "{{count}} >", "onTrue": "big", "onFalse": "small"}]}`,
		postEnv(rec, &core.ExecuteResult{}))

	assert.True(t, r.Success)
	assert.ErrorIs(t, r.Violation, core.ErrInvalidCondition)
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse("{\n  \"flow\": {\"action\": }\n}")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.Line)
	assert.Greater(t, e.Column, 1)

	r := Run("{\n  \"flow\": {\"action\": }\n}", Env{Phase: core.PhasePost})
	assert.False(t, r.Success)
	assert.ErrorIs(t, r.Cause, core.ErrInvalidScript)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, 2, r.Errors[0].Line)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
		path string
	}{
		{"unknown section", `{"asserts": []}`, ""},
		{"unknown assertion type", `{"assertions": [{"type": "cookie"}]}`, "assertions/0/type"},
		{"unknown operator", `{"assertions": [{"type": "status", "operator": "approx"}]}`, "assertions/0/operator"},
		{"jsonpath without path", `{"assertions": [{"type": "jsonpath", "value": 1}]}`, "assertions/0"},
		{"setVariable without name", `{"setVariables": [{"value": 1}]}`, "setVariables/0"},
		{"bad scope", `{"setVariables": [{"name": "a", "scope": "session", "value": 1}]}`, "setVariables/0/scope"},
		{"math without expression", `{"setVariables": [{"name": "a", "type": "math"}]}`, "setVariables/0"},
		{"goto without target", `{"flow": {"action": "goto"}}`, "flow"},
		{"unknown action", `{"flow": {"action": "jump"}}`, "flow/action"},
		{"switch without cases", `{"flow": {"type": "switch"}}`, "flow"},
		{"case without condition", `{"flow": {"type": "switch", "cases": [{"action": "stop"}]}}`, "flow/cases/0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var e *Error
			require.ErrorAs(t, err, &e)
			require.NotEmpty(t, e.Violations)
			found := false
			for _, v := range e.Violations {
				if v.Path == tt.path {
					found = true
				}
			}
			assert.True(t, found, "no violation at %q in %v", tt.path, e.Violations)
		})
	}
}

func TestStaticTargets(t *testing.T) {
	s, err := Parse(`{"flow": {"type": "switch", "cases": [
		{"condition": "true", "action": "goto", "target": "a"},
		{"condition": "true", "action": "goto", "target": "{{dynamic}}"}
	], "default": {"action": "goto", "target": 4}}}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "4"}, StaticTargets(s.Flow))
}

func TestSchemaJSON(t *testing.T) {
	assert.Contains(t, string(SchemaJSON()), "setVariables")
}

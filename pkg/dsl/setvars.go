package dsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/devicelab-dev/apiflow/pkg/assertion"
	"github.com/devicelab-dev/apiflow/pkg/condition"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/jsonpath"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// setVariables types.
const (
	SetLiteral     = "set"
	SetExtract     = "extract"
	SetIncrement   = "increment"
	SetDecrement   = "decrement"
	SetMath        = "math"
	SetConcat      = "concat"
	SetConditional = "conditional"
)

// errSkipped marks an entry that produced a warning instead of a value.
var errSkipped = errors.New("skipped")

// EffectiveType infers the type when it is not given.
func (sv SetVariable) EffectiveType() string {
	if sv.Type != "" {
		return sv.Type
	}
	switch {
	case sv.From != "":
		return SetExtract
	case sv.Expression != "":
		return SetMath
	case sv.Values != nil:
		return SetConcat
	case sv.Condition != "":
		return SetConditional
	}
	return SetLiteral
}

func (s *Script) applySetVariable(i int, sv SetVariable, env Env, r *core.ScriptResult) {
	label := fmt.Sprintf("setVariables[%d] %s", i, sv.Name)

	scope, err := core.ParseScope(sv.Scope)
	if err != nil {
		r.AddError(fmt.Sprintf("%s: %v", label, err), 0, 0)
		return
	}

	value, err := evaluate(sv, scope, env, r, label)
	if errors.Is(err, errSkipped) {
		return
	}
	if err != nil {
		r.AddError(fmt.Sprintf("%s: %v", label, err), 0, 0)
		return
	}

	if err := env.Vars.Set(scope, sv.Name, value); err != nil {
		r.AddError(fmt.Sprintf("%s: %v", label, err), 0, 0)
		return
	}
	if sv.EffectiveType() == SetExtract {
		if r.ExtractedVars == nil {
			r.ExtractedVars = make(map[string]interface{})
		}
		r.ExtractedVars[sv.Name] = value
	}
}

func evaluate(sv SetVariable, scope core.Scope, env Env, r *core.ScriptResult, label string) (interface{}, error) {
	vars := env.Vars

	switch sv.EffectiveType() {
	case SetLiteral:
		return renderValue(sv.Value, vars), nil

	case SetExtract:
		if env.Response == nil {
			r.AddWarning(fmt.Sprintf("%s: extract needs a response and was skipped", label))
			return nil, errSkipped
		}
		path := template.Render(sv.From, vars)
		v, err := jsonpath.Extract(env.Response.Body, path)
		if errors.Is(err, jsonpath.ErrNotFound) || errors.Is(err, jsonpath.ErrInvalidJSON) {
			r.AddWarning(fmt.Sprintf("%s: %s: %v", label, path, err))
			return nil, errSkipped
		}
		return v, err

	case SetIncrement, SetDecrement:
		by := 1.0
		if sv.By != nil {
			n, ok := assertion.ToNumber(renderValue(sv.By, vars))
			if !ok {
				return nil, fmt.Errorf("by %v is not numeric", sv.By)
			}
			by = n
		}
		current, ok := vars.GetIn(scope, sv.Name)
		if !ok {
			current, _ = vars.Get(sv.Name)
		}
		n, _ := assertion.ToNumber(current)
		if sv.EffectiveType() == SetDecrement {
			return n - by, nil
		}
		return n + by, nil

	case SetMath:
		return evalMath(template.Render(sv.Expression, vars), vars.Snapshot())

	case SetConcat:
		parts := make([]string, len(sv.Values))
		for i, v := range sv.Values {
			parts[i] = template.Stringify(renderValue(v, vars))
		}
		return strings.Join(parts, sv.Separator), nil

	case SetConditional:
		ok, err := condition.Evaluate(sv.Condition, vars)
		if err != nil {
			r.AddWarning(fmt.Sprintf("%s: %v", label, err))
			r.Violate(core.ErrInvalidCondition.WithCause(err))
		}
		if ok {
			return renderValue(sv.OnTrue, vars), nil
		}
		return renderValue(sv.OnFalse, vars), nil
	}
	return nil, fmt.Errorf("unknown setVariables type %q", sv.Type)
}

// evalMath evaluates an arithmetic expression. Variables whose names are
// valid identifiers can also be referenced directly.
func evalMath(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval expression %q: %w", expression, err)
	}
	if n, ok := assertion.ToNumber(out); ok {
		if _, isString := out.(string); !isString {
			return n, nil
		}
	}
	return out, nil
}

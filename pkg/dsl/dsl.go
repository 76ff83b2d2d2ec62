// Package dsl interprets the declarative JSON script format used for step
// pre- and post-scripts.
//
// A script has up to three sections evaluated in order: assertions (post
// only), setVariables and flow (post only). String fields are rendered when
// they are evaluated, so a flow condition sees variables written by the
// setVariables section of the same script.
package dsl

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/assertion"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Script is a parsed DSL document.
type Script struct {
	Assertions   []assertion.Assertion `json:"assertions,omitempty"`
	SetVariables []SetVariable         `json:"setVariables,omitempty"`
	Flow         *FlowSpec             `json:"flow,omitempty"`
}

// SetVariable is one variable mutation.
type SetVariable struct {
	Name       string        `json:"name"`
	Scope      string        `json:"scope,omitempty"`
	Type       string        `json:"type,omitempty"`
	Value      interface{}   `json:"value,omitempty"`
	From       string        `json:"from,omitempty"`
	By         interface{}   `json:"by,omitempty"`
	Expression string        `json:"expression,omitempty"`
	Values     []interface{} `json:"values,omitempty"`
	Separator  string        `json:"separator,omitempty"`
	Condition  string        `json:"condition,omitempty"`
	OnTrue     interface{}   `json:"onTrue,omitempty"`
	OnFalse    interface{}   `json:"onFalse,omitempty"`
}

// FlowSpec is the flow section: a plain action, a conditional or a switch.
type FlowSpec struct {
	Type      string      `json:"type,omitempty"`
	Action    string      `json:"action,omitempty"`
	Target    interface{} `json:"target,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Condition string      `json:"condition,omitempty"`
	OnTrue    *FlowSpec   `json:"onTrue,omitempty"`
	OnFalse   *FlowSpec   `json:"onFalse,omitempty"`
	Cases     []FlowSpec  `json:"cases,omitempty"`
	Default   *FlowSpec   `json:"default,omitempty"`
}

// Variables is the store surface the interpreter needs.
type Variables interface {
	template.Lookup
	GetIn(scope core.Scope, name string) (interface{}, bool)
	Snapshot() map[string]interface{}
	Set(scope core.Scope, name string, value interface{}) error
}

// Env is the evaluation context of one script invocation.
type Env struct {
	Phase    core.Phase
	Vars     Variables
	Response *core.ExecuteResult // nil in the pre phase
}

// IsDSL reports whether source is a DSL document rather than script code.
func IsDSL(source string) bool {
	return strings.HasPrefix(strings.TrimSpace(source), "{")
}

// Error is a parse or schema failure.
type Error struct {
	Line       int
	Column     int
	Message    string
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return e.Message + ": " + strings.Join(msgs, "; ")
}

// Parse decodes and validates a DSL document.
func Parse(source string) (*Script, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(source), &doc); err != nil {
		e := &Error{Message: fmt.Sprintf("invalid DSL JSON: %v", err)}
		if se, ok := err.(*json.SyntaxError); ok {
			e.Line, e.Column = position(source, se.Offset)
		}
		return nil, e
	}

	violations, err := validateDoc(doc)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, &Error{Message: "DSL script does not match the schema", Violations: violations}
	}

	var s Script
	if err := json.Unmarshal([]byte(source), &s); err != nil {
		return nil, &Error{Message: fmt.Sprintf("invalid DSL script: %v", err)}
	}
	return &s, nil
}

// Run parses and executes source.
func Run(source string, env Env) *core.ScriptResult {
	start := time.Now()
	s, err := Parse(source)
	if err != nil {
		r := core.NewScriptResult(core.ModeDSL)
		recordParseError(r, err)
		r.DurationMs = time.Since(start).Milliseconds()
		return r
	}
	r := s.Execute(env)
	r.DurationMs = time.Since(start).Milliseconds()
	return r
}

func recordParseError(r *core.ScriptResult, err error) {
	r.Cause = core.ErrInvalidScript.WithCause(err)
	e, ok := err.(*Error)
	if !ok {
		r.AddError(err.Error(), 0, 0)
		return
	}
	if len(e.Violations) == 0 {
		r.AddError(e.Message, e.Line, e.Column)
		return
	}
	for _, v := range e.Violations {
		r.AddError(v.String(), 0, 0)
	}
}

// Execute evaluates the script sections in order.
func (s *Script) Execute(env Env) *core.ScriptResult {
	r := core.NewScriptResult(core.ModeDSL)
	post := env.Phase == core.PhasePost

	if post && len(s.Assertions) > 0 {
		list := make([]assertion.Assertion, len(s.Assertions))
		for i, a := range s.Assertions {
			list[i] = renderAssertion(a, env.Vars)
		}
		assertion.Evaluate(list, env.Response).ApplyTo(r)
	}

	for i, sv := range s.SetVariables {
		s.applySetVariable(i, sv, env, r)
	}

	if post && s.Flow != nil {
		d, warnings, err := ResolveFlow(s.Flow, env.Vars)
		for _, w := range warnings {
			r.AddWarning(w)
		}
		if err != nil {
			r.Violate(core.ErrInvalidCondition.WithCause(err))
		}
		r.Directive = d
	}
	return r
}

func renderAssertion(a assertion.Assertion, vars template.Lookup) assertion.Assertion {
	a.Path = template.Render(a.Path, vars)
	a.Name = template.Render(a.Name, vars)
	a.Value = renderValue(a.Value, vars)
	return a
}

// renderValue renders strings, including those nested in arrays.
func renderValue(v interface{}, vars template.Lookup) interface{} {
	switch val := v.(type) {
	case string:
		return template.Render(val, vars)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = renderValue(item, vars)
		}
		return out
	}
	return v
}

// position converts a byte offset into a 1-based line and column.
func position(source string, offset int64) (int, int) {
	if offset > int64(len(source)) {
		offset = int64(len(source))
	}
	line, col := 1, 1
	for _, c := range source[:offset] {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

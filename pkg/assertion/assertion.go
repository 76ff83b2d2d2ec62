// Package assertion evaluates declarative response checks.
package assertion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/jsonpath"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Assertion types.
const (
	TypeStatus       = "status"
	TypeJSONPath     = "jsonpath"
	TypeHeader       = "header"
	TypeResponseTime = "responseTime"
	TypeBodyContains = "bodyContains"
)

// Assertion is one declarative check. Path applies to jsonpath assertions,
// Name to header assertions.
type Assertion struct {
	Type     string      `json:"type"`
	Operator string      `json:"operator,omitempty"`
	Value    interface{} `json:"value,omitempty"`
	Path     string      `json:"path,omitempty"`
	Name     string      `json:"name,omitempty"`
}

// Describe returns a short label such as "jsonpath $.id".
func (a Assertion) Describe() string {
	switch a.Type {
	case TypeJSONPath:
		return a.Type + " " + a.Path
	case TypeHeader:
		return a.Type + " " + a.Name
	}
	return a.Type
}

// Outcome aggregates an evaluated assertion list.
type Outcome struct {
	Passed   int
	Failed   int
	Results  []core.AssertionResult
	Errors   []string // Failure messages in evaluation order
	Warnings []string
	Skipped  int // Checks past the ceiling
}

// ApplyTo records the outcome on a script result.
func (o *Outcome) ApplyTo(r *core.ScriptResult) {
	for _, res := range o.Results {
		r.RecordAssertion(res)
	}
	for _, w := range o.Warnings {
		r.AddWarning(w)
	}
	if o.Skipped > 0 {
		r.Violate(core.ErrAssertionCeiling.WithDetails(map[string]interface{}{
			"limit":   core.MaxAssertions,
			"skipped": o.Skipped,
		}))
	}
}

// Evaluate runs up to core.MaxAssertions checks against resp. Checks past
// the ceiling are not evaluated; they produce a warning here and a run
// violation once applied to a script result.
func Evaluate(list []Assertion, resp *core.ExecuteResult) *Outcome {
	out := &Outcome{}
	if len(list) > core.MaxAssertions {
		out.Warnings = append(out.Warnings, fmt.Sprintf(
			"%d assertions exceed the limit of %d and were not evaluated",
			len(list)-core.MaxAssertions, core.MaxAssertions))
		out.Skipped = len(list) - core.MaxAssertions
		list = list[:core.MaxAssertions]
	}

	for _, a := range list {
		res := Check(a, resp)
		out.Results = append(out.Results, res)
		if res.Passed {
			out.Passed++
		} else {
			out.Failed++
			out.Errors = append(out.Errors, res.Message)
		}
	}
	return out
}

// Check evaluates a single assertion.
func Check(a Assertion, resp *core.ExecuteResult) core.AssertionResult {
	op := strings.TrimSpace(a.Operator)
	if op == "" {
		op = OpEq
	}
	res := core.AssertionResult{
		Name:     a.Describe(),
		Type:     a.Type,
		Operator: op,
		Expected: a.Value,
	}
	if resp == nil {
		resp = &core.ExecuteResult{}
	}

	var actual interface{}
	found := true

	switch a.Type {
	case TypeStatus:
		actual = resp.StatusCode
	case TypeResponseTime:
		actual = resp.DurationMs
	case TypeHeader:
		if a.Name == "" {
			return fail(res, "header assertion requires a name")
		}
		actual, found = resp.Header(a.Name)
	case TypeJSONPath:
		if a.Path == "" {
			return fail(res, "jsonpath assertion requires a path")
		}
		v, err := jsonpath.Extract(resp.Body, a.Path)
		switch {
		case errors.Is(err, jsonpath.ErrNotFound):
			found = false
		case errors.Is(err, jsonpath.ErrInvalidJSON):
			return fail(res, "response body is not valid JSON")
		case err != nil:
			return fail(res, err.Error())
		}
		actual = v
	case TypeBodyContains:
		res.Operator = OpContains
		res.Actual = fmt.Sprintf("%d bytes", len(resp.Body))
		needle := template.Stringify(a.Value)
		res.Passed = strings.Contains(resp.Body, needle)
		if !res.Passed {
			res.Message = fmt.Sprintf("body does not contain %q", needle)
		}
		return res
	default:
		return fail(res, fmt.Sprintf("unknown assertion type %q", a.Type))
	}

	if op == OpExists {
		want := true
		if a.Value != nil {
			want = truthy(a.Value)
		}
		res.Actual = found
		res.Passed = found == want
		if !res.Passed {
			if want {
				res.Message = fmt.Sprintf("%s does not exist", a.Describe())
			} else {
				res.Message = fmt.Sprintf("%s exists", a.Describe())
			}
		}
		return res
	}

	res.Actual = actual
	if !found {
		return fail(res, fmt.Sprintf("%s not found", a.Describe()))
	}

	passed, err := Compare(op, actual, a.Value)
	if err != nil {
		return fail(res, err.Error())
	}
	res.Passed = passed
	if !passed {
		res.Message = fmt.Sprintf("%s: expected %s %s, got %s",
			a.Describe(), op, template.Stringify(a.Value), template.Stringify(actual))
	}
	return res
}

func fail(res core.AssertionResult, msg string) core.AssertionResult {
	res.Passed = false
	res.Message = msg
	return res
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != "" && b != "false" && b != "0"
	case float64:
		return b != 0
	case int:
		return b != 0
	}
	return v != nil
}

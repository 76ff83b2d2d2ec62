package jsengine

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/apiflow/pkg/assertion"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// expectationError is thrown by a failing matcher inside test()
type expectationError struct {
	message string
}

func (e *expectationError) Error() string { return e.message }

// matcher evaluates one expectation against the actual value
type matcher struct {
	name string
	op   string
	args int
	fn   func(actual goja.Value, expected goja.Value) (bool, error)
}

func (e *Engine) matchers() []matcher {
	compare := func(op string) func(goja.Value, goja.Value) (bool, error) {
		return func(actual, expected goja.Value) (bool, error) {
			return assertion.Compare(op, exportValue(actual), exportValue(expected))
		}
	}
	return []matcher{
		{name: "toBe", op: assertion.OpEq, args: 1, fn: func(actual, expected goja.Value) (bool, error) {
			return actual.StrictEquals(expected), nil
		}},
		{name: "toEqual", op: assertion.OpEq, args: 1, fn: compare(assertion.OpEq)},
		{name: "toContain", op: assertion.OpContains, args: 1, fn: compare(assertion.OpContains)},
		{name: "toBeGreaterThan", op: assertion.OpGt, args: 1, fn: compare(assertion.OpGt)},
		{name: "toBeLessThan", op: assertion.OpLt, args: 1, fn: compare(assertion.OpLt)},
		{name: "toMatch", op: assertion.OpRegex, args: 1, fn: compare(assertion.OpRegex)},
		{name: "toBeTruthy", op: "truthy", fn: func(actual, _ goja.Value) (bool, error) {
			return actual.ToBoolean(), nil
		}},
		{name: "toBeFalsy", op: "falsy", fn: func(actual, _ goja.Value) (bool, error) {
			return !actual.ToBoolean(), nil
		}},
		{name: "toExist", op: assertion.OpExists, fn: func(actual, _ goja.Value) (bool, error) {
			return actual != nil && !goja.IsUndefined(actual) && !goja.IsNull(actual), nil
		}},
	}
}

// setupAssertions installs test() and expect()
func (e *Engine) setupAssertions() {
	e.runtime.Set("expect", func(call goja.FunctionCall) goja.Value {
		return e.expectation(call.Argument(0), false)
	})

	e.runtime.Set("test", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(e.runtime.NewTypeError("test requires a name and a function"))
		}

		e.mu.Lock()
		e.inTest = true
		e.mu.Unlock()
		_, err := fn(goja.Undefined())
		e.mu.Lock()
		e.inTest = false
		e.mu.Unlock()

		res := core.AssertionResult{Name: name, Type: "test", Passed: err == nil}
		if err != nil {
			if _, interrupted := err.(*goja.InterruptedError); interrupted {
				panic(err)
			}
			res.Message = testFailure(err)
		}
		e.record(res)
		return goja.Undefined()
	})
}

func testFailure(err error) string {
	if ex, ok := err.(*goja.Exception); ok {
		if ee, ok := ex.Value().Export().(error); ok {
			return ee.Error()
		}
		return ex.Value().String()
	}
	return err.Error()
}

// record appends an assertion while under the per-script ceiling
func (e *Engine) record(res core.AssertionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.result.Assertions) >= core.MaxAssertions {
		if !e.overflowed {
			e.overflowed = true
			e.result.AddWarning(fmt.Sprintf("assertions beyond the limit of %d were not evaluated", core.MaxAssertions))
			e.result.Violate(core.ErrAssertionCeiling.WithDetails(map[string]interface{}{
				"limit": core.MaxAssertions,
			}))
		}
		return
	}
	e.result.RecordAssertion(res)
}

// expectation builds the matcher object returned by expect()
func (e *Engine) expectation(actual goja.Value, negate bool) *goja.Object {
	obj := e.runtime.NewObject()
	for _, m := range e.matchers() {
		m := m
		obj.Set(m.name, func(call goja.FunctionCall) goja.Value {
			expected := call.Argument(0)
			passed, err := m.fn(actual, expected)
			if negate && err == nil {
				passed = !passed
			}

			res := core.AssertionResult{
				Name:     describeExpectation(m.name, negate),
				Type:     "expect",
				Operator: m.op,
				Actual:   exportValue(actual),
				Passed:   passed,
			}
			if m.args > 0 {
				res.Expected = exportValue(expected)
			}
			if err != nil {
				res.Passed = false
				res.Message = err.Error()
			} else if !passed {
				res.Message = expectationMessage(m, negate, res.Actual, res.Expected)
			}

			e.mu.Lock()
			inTest := e.inTest
			e.mu.Unlock()
			if inTest {
				if !res.Passed {
					panic(e.runtime.NewGoError(&expectationError{message: res.Message}))
				}
				return goja.Undefined()
			}
			e.record(res)
			return goja.Undefined()
		})
	}
	if !negate {
		obj.Set("not", e.expectation(actual, true))
	}
	return obj
}

func describeExpectation(name string, negate bool) string {
	if negate {
		return "expect().not." + name
	}
	return "expect()." + name
}

func expectationMessage(m matcher, negate bool, actual, expected interface{}) string {
	not := ""
	if negate {
		not = "not "
	}
	if m.args == 0 {
		return fmt.Sprintf("expected %s %sto satisfy %s", template.Stringify(actual), not, m.name)
	}
	return fmt.Sprintf("expected %s %sto satisfy %s %s", template.Stringify(actual), not, m.name, template.Stringify(expected))
}

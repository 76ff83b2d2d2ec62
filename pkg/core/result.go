// Package core provides the execution model types for apiflow.
package core

import (
	"strings"
	"time"
)

// SkipReason explains why a step iteration produced no dispatch.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipCondition   SkipReason = "condition"    // Step condition evaluated false
	SkipRequest     SkipReason = "skip_request" // Pre-script called skipRequest
	SkipNotExecuted SkipReason = "not_executed" // Run failed before reaching the step
	SkipCancelled   SkipReason = "cancelled"    // Run cancelled before or during the step
)

// ScriptError is one failure inside a pre/post script
type ScriptError struct {
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// AssertionResult records a single evaluated check
type AssertionResult struct {
	Name     string      `json:"name,omitempty"`
	Type     string      `json:"type"`
	Operator string      `json:"operator,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Actual   interface{} `json:"actual,omitempty"`
	Passed   bool        `json:"passed"`
	Message  string      `json:"message,omitempty"`
}

// VarUpdate is a variable mutation requested by a script.
// Exactly one of Value, Unset or Clear applies.
type VarUpdate struct {
	Scope Scope       `json:"scope"`
	Name  string      `json:"name,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Unset bool        `json:"unset,omitempty"`
	Clear bool        `json:"clear,omitempty"`
}

// ScriptResult is the shared outcome shape of DSL and embedded scripts
type ScriptResult struct {
	Mode             string                 `json:"mode"` // ModeDSL or ModeScript
	Success          bool                   `json:"success"`
	Errors           []ScriptError          `json:"errors,omitempty"`
	AssertionsPassed int                    `json:"assertionsPassed"`
	AssertionsFailed int                    `json:"assertionsFailed"`
	Assertions       []AssertionResult      `json:"assertions,omitempty"`
	UpdatedVars      []VarUpdate            `json:"updatedVars,omitempty"`
	ExtractedVars    map[string]interface{} `json:"extractedVars,omitempty"`
	Directive        Directive              `json:"directive"`
	SkipRequest      bool                   `json:"skipRequest,omitempty"`
	Logs             []string               `json:"logs,omitempty"`
	Warnings         []string               `json:"warnings,omitempty"`
	DurationMs       int64                  `json:"durationMs"`

	// Cause keeps the categorised error behind the first failure (timeout, quota...)
	Cause error `json:"-"`

	// Violation ends the whole run regardless of continueOnError
	Violation error `json:"-"`
}

// NewScriptResult returns a successful, empty result for the given mode.
func NewScriptResult(mode string) *ScriptResult {
	return &ScriptResult{Mode: mode, Success: true, Directive: Next()}
}

// AddError records a failure and marks the result unsuccessful
func (r *ScriptResult) AddError(msg string, line, column int) {
	r.Success = false
	r.Errors = append(r.Errors, ScriptError{Message: msg, Line: line, Column: column})
}

// Violate records a run-ending violation; the first one wins.
func (r *ScriptResult) Violate(err error) {
	if r.Violation == nil {
		r.Violation = err
	}
}

// AddWarning records a non-fatal issue
func (r *ScriptResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// RecordAssertion appends an assertion outcome and updates the counters
func (r *ScriptResult) RecordAssertion(a AssertionResult) {
	r.Assertions = append(r.Assertions, a)
	if a.Passed {
		r.AssertionsPassed++
	} else {
		r.AssertionsFailed++
	}
}

// Failed reports whether the script errored or any assertion failed
func (r *ScriptResult) Failed() bool {
	if r == nil {
		return false
	}
	return !r.Success || r.AssertionsFailed > 0
}

// ErrorMessage joins all script errors into one line
func (r *ScriptResult) ErrorMessage() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// StepResult captures the outcome of one loop iteration of one step
type StepResult struct {
	// Identity
	StepID      int64  `json:"stepId"`
	RequestName string `json:"requestName"`
	StepOrder   int    `json:"stepOrder"`
	Iteration   int    `json:"iteration"` // 1-based within loopCount
	LoopCount   int    `json:"loopCount"`

	// Status
	Status     StepStatus `json:"status"`
	Skipped    bool       `json:"skipped"`
	SkipReason SkipReason `json:"skipReason,omitempty"`

	// Timing
	StartTime time.Time `json:"startTime"`
	Duration  int64     `json:"durationMs"`

	// Request and response
	Request *Request       `json:"request,omitempty"` // Rendered request as dispatched
	Execute *ExecuteResult `json:"executeResult,omitempty"`

	// Scripts
	PreScript  *ScriptResult `json:"preScriptResult,omitempty"`
	PostScript *ScriptResult `json:"postScriptResult,omitempty"`

	ExtractedVars map[string]interface{} `json:"extractedVars,omitempty"`
	Directive     Directive              `json:"directive"`

	// Error Details
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// AssertionCounts sums assertion counters of both scripts
func (s *StepResult) AssertionCounts() (passed, failed int) {
	for _, r := range []*ScriptResult{s.PreScript, s.PostScript} {
		if r != nil {
			passed += r.AssertionsPassed
			failed += r.AssertionsFailed
		}
	}
	return passed, failed
}

// FlowResult captures the complete outcome of executing a flow
type FlowResult struct {
	// Identity
	RunID    string `json:"runId"`
	FlowID   int64  `json:"flowId"`
	FlowName string `json:"flowName"`

	// Timing
	StartTime   time.Time `json:"startTime"`
	TotalTimeMs int64     `json:"totalTimeMs"`

	// Results
	Steps []StepResult `json:"steps"`

	// Outcome
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	// Summary (computed)
	TotalSteps       int `json:"totalSteps"`
	PassedSteps      int `json:"passedSteps"`
	FailedSteps      int `json:"failedSteps"`
	SkippedSteps     int `json:"skippedSteps"`
	AssertionsPassed int `json:"assertionsPassed"`
	AssertionsFailed int `json:"assertionsFailed"`
	Repeats          int `json:"repeats"`
	Gotos            int `json:"gotos"`
}

// Append adds a step result; results are never modified after this call
func (f *FlowResult) Append(s StepResult) {
	f.Steps = append(f.Steps, s)
}

// Fail marks the run failed with a top-level error
func (f *FlowResult) Fail(err error) {
	f.Success = false
	if err == nil {
		return
	}
	f.Error = err.Error()
	if ee, ok := err.(*ExecutionError); ok {
		f.ErrorCode = ee.Code
	}
}

// ComputeSummary calculates step counts from the Steps slice
func (f *FlowResult) ComputeSummary() {
	f.TotalSteps = len(f.Steps)
	f.PassedSteps = 0
	f.FailedSteps = 0
	f.SkippedSteps = 0
	f.AssertionsPassed = 0
	f.AssertionsFailed = 0

	for i := range f.Steps {
		step := &f.Steps[i]
		switch step.Status {
		case StatusPassed:
			f.PassedSteps++
		case StatusFailed:
			f.FailedSteps++
		case StatusSkipped:
			f.SkippedSteps++
		}
		p, fl := step.AssertionCounts()
		f.AssertionsPassed += p
		f.AssertionsFailed += fl
	}
}

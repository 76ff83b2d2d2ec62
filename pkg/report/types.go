// Package report provides JSON-based run reporting with real-time updates.
//
// Architecture:
//   - report.json: Main index file (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: Per-flow detail files (no lock needed)
//
// The index file serves as single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details as needed.
package report

import (
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// StatusOf maps a run outcome to a report status.
func StatusOf(success bool) Status {
	if success {
		return StatusPassed
	}
	return StatusFailed
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
// It contains minimal info for efficient polling and change detection.
type Index struct {
	Version     string      `json:"version"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Flows       []FlowEntry `json:"flows"`
}

// RunnerInfo describes the tool that produced the report.
type RunnerInfo struct {
	Version string `json:"version"`
	RunID   string `json:"runId,omitempty"`
}

// Summary contains flow counts by status and the run-wide step counters.
type Summary struct {
	Total   int         `json:"total"`
	Passed  int         `json:"passed"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Running int         `json:"running"`
	Pending int         `json:"pending"`
	Steps   StepSummary `json:"steps"`
}

// FlowEntry is the index entry for a flow (minimal info).
type FlowEntry struct {
	Index       int         `json:"index"`      // Original position
	ID          string      `json:"id"`         // Report-local flow ID
	Name        string      `json:"name"`       // Display name
	SourceFile  string      `json:"sourceFile"` // Path to flow file
	DataFile    string      `json:"dataFile"`   // Path to flow detail JSON
	Status      Status      `json:"status"`
	UpdateSeq   uint64      `json:"updateSeq"`
	StartTime   *time.Time  `json:"startTime,omitempty"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	Duration    *int64      `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time  `json:"lastUpdated,omitempty"`
	Steps       StepSummary `json:"steps"`
	Error       *string     `json:"error,omitempty"`
	ErrorCode   string      `json:"errorCode,omitempty"` // Engine error code, e.g. goto_target
}

// StepSummary contains step result counts for a flow.
type StepSummary struct {
	Total            int `json:"total"` // Step definitions in the flow
	Executed         int `json:"executed"`
	Passed           int `json:"passed"`
	Failed           int `json:"failed"`
	Skipped          int `json:"skipped"`
	AssertionsPassed int `json:"assertionsPassed"`
	AssertionsFailed int `json:"assertionsFailed"`
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	SourceFile string     `json:"sourceFile"`
	Tags       []string   `json:"tags,omitempty"`
	Status     Status     `json:"status"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   *int64     `json:"duration,omitempty"` // milliseconds
	StepCount  int        `json:"stepCount"`

	// Result is the engine's result; Steps grow while the flow runs.
	Result core.FlowResult `json:"result"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a flow.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Steps     StepSummary
	Error     *string
	ErrorCode string
}

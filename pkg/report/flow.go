package report

import (
	"path/filepath"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/logger"
)

// FlowWriter writes updates for a single flow.
// Each flow goroutine has its own FlowWriter - no locking needed.
type FlowWriter struct {
	flow  *FlowDetail
	path  string
	index *IndexWriter
}

// NewFlowWriter creates a new FlowWriter for a flow.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	return &FlowWriter{
		flow:  flowDetail,
		path:  filepath.Join(outputDir, "flows", flowDetail.ID+".json"),
		index: index,
	}
}

// Start marks the flow as started.
func (w *FlowWriter) Start() {
	now := time.Now()
	w.flow.StartTime = now
	w.flow.Status = StatusRunning

	w.flush()
	w.updateIndex(StatusRunning, &now, nil, nil, nil)
}

// StepComplete appends one step iteration result.
func (w *FlowWriter) StepComplete(result core.StepResult) {
	w.flow.Result.Append(result)
	w.flush()
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status: StatusRunning,
		Steps:  w.stepSummary(),
	})
}

// End records the final result and marks the flow complete.
func (w *FlowWriter) End(result *core.FlowResult) {
	now := time.Now()
	w.flow.EndTime = &now
	w.flow.Result = *result
	w.flow.Status = StatusOf(result.Success)

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
		w.flow.Duration = &duration
	}

	w.flush()

	var errMsg *string
	if result.Error != "" {
		msg := result.Error
		errMsg = &msg
	}
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    w.flow.Status,
		EndTime:   &now,
		Duration:  &duration,
		Steps:     w.stepSummary(),
		Error:     errMsg,
		ErrorCode: result.ErrorCode,
	})
}

// Skip marks a flow that never ran.
func (w *FlowWriter) Skip(reason string) {
	w.flow.Status = StatusSkipped
	w.flow.Result.Error = reason
	w.flush()
	w.updateIndex(StatusSkipped, nil, nil, nil, &reason)
}

// flush writes the flow detail to disk.
func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil {
		logger.Warn("report flow write failed for %s: %v", w.flow.ID, err)
	}
}

// updateIndex updates the index with current flow state.
func (w *FlowWriter) updateIndex(status Status, startTime, endTime *time.Time, duration *int64, errMsg *string) {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Steps:     w.stepSummary(),
		Error:     errMsg,
	})
}

// stepSummary computes step counters from the results so far.
func (w *FlowWriter) stepSummary() StepSummary {
	s := StepSummary{Total: w.flow.StepCount}
	for i := range w.flow.Result.Steps {
		step := &w.flow.Result.Steps[i]
		s.Executed++
		switch step.Status {
		case core.StatusPassed:
			s.Passed++
		case core.StatusFailed:
			s.Failed++
		case core.StatusSkipped:
			s.Skipped++
		}
		p, f := step.AssertionCounts()
		s.AssertionsPassed += p
		s.AssertionsFailed += f
	}
	return s
}

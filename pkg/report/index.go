package report

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/logger"
)

// progressDebounce bounds how often step progress rewrites report.json.
const progressDebounce = 100 * time.Millisecond

// IndexWriter owns report.json while a run is in progress. Flow writers of
// concurrent flows report to it; step progress is coalesced and written at
// most once per progressDebounce, flow transitions are written at once.
type IndexWriter struct {
	mu      sync.Mutex
	path    string
	index   *Index
	pending map[string]*FlowUpdate
	timer   *time.Timer
	closed  bool
}

// NewIndexWriter creates a writer for <outputDir>/report.json.
func NewIndexWriter(outputDir string, index *Index) *IndexWriter {
	return &IndexWriter{
		path:    filepath.Join(outputDir, "report.json"),
		index:   index,
		pending: make(map[string]*FlowUpdate),
	}
}

// Start marks the run as running.
func (w *IndexWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.index.Status = StatusRunning
	w.index.StartTime = time.Now()
	w.writeLocked()
}

// UpdateFlow queues an update for flowID. Updates that change the flow's
// status are written immediately; step progress within a running flow is
// debounced.
func (w *IndexWriter) UpdateFlow(flowID string, update *FlowUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.pending[flowID]; ok {
		update = mergeUpdate(prev, update)
	}
	w.pending[flowID] = update

	if w.closed || update.Status != w.statusOf(flowID) {
		w.writeLocked()
		return
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(progressDebounce, w.flush)
	}
}

// End records the final run status.
func (w *IndexWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.index.EndTime = &now
	w.applyPendingLocked()
	w.index.Status = runStatus(w.index.Flows)
	w.writeLocked()
}

// Close writes any pending progress and stops the debounce timer.
func (w *IndexWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if len(w.pending) > 0 {
		w.writeLocked()
	}
	w.stopTimerLocked()
}

// Snapshot returns a copy of the index as currently known.
func (w *IndexWriter) Snapshot() Index {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyPendingLocked()

	snap := *w.index
	snap.Flows = append([]FlowEntry(nil), w.index.Flows...)
	return snap
}

func (w *IndexWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeLocked()
}

func (w *IndexWriter) writeLocked() {
	w.stopTimerLocked()
	w.applyPendingLocked()

	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	if err := atomicWriteJSON(w.path, w.index); err != nil {
		logger.Warn("report index write failed: %v", err)
	}
}

func (w *IndexWriter) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *IndexWriter) applyPendingLocked() {
	if len(w.pending) == 0 {
		return
	}
	now := time.Now()
	for i := range w.index.Flows {
		f := &w.index.Flows[i]
		u, ok := w.pending[f.ID]
		if !ok {
			continue
		}
		f.Status = u.Status
		f.Steps = u.Steps
		if u.StartTime != nil {
			f.StartTime = u.StartTime
		}
		if u.EndTime != nil {
			f.EndTime = u.EndTime
		}
		if u.Duration != nil {
			f.Duration = u.Duration
		}
		if u.Error != nil {
			f.Error = u.Error
		}
		if u.ErrorCode != "" {
			f.ErrorCode = u.ErrorCode
		}
		f.UpdateSeq++
		f.LastUpdated = &now
	}
	w.pending = make(map[string]*FlowUpdate)
	w.index.Summary = summarize(w.index.Flows)
}

// statusOf is the last written status of flowID.
func (w *IndexWriter) statusOf(flowID string) Status {
	for i := range w.index.Flows {
		if w.index.Flows[i].ID == flowID {
			return w.index.Flows[i].Status
		}
	}
	return ""
}

// mergeUpdate keeps timestamps and errors of an unwritten earlier update
// that next does not carry.
func mergeUpdate(prev, next *FlowUpdate) *FlowUpdate {
	merged := *next
	if merged.StartTime == nil {
		merged.StartTime = prev.StartTime
	}
	if merged.EndTime == nil {
		merged.EndTime = prev.EndTime
	}
	if merged.Duration == nil {
		merged.Duration = prev.Duration
	}
	if merged.Error == nil {
		merged.Error = prev.Error
	}
	if merged.ErrorCode == "" {
		merged.ErrorCode = prev.ErrorCode
	}
	return &merged
}

// summarize counts flows by status and totals their step counters.
func summarize(flows []FlowEntry) Summary {
	s := Summary{Total: len(flows)}
	for _, f := range flows {
		switch f.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
		default:
			s.Pending++
		}
		s.Steps.Total += f.Steps.Total
		s.Steps.Executed += f.Steps.Executed
		s.Steps.Passed += f.Steps.Passed
		s.Steps.Failed += f.Steps.Failed
		s.Steps.Skipped += f.Steps.Skipped
		s.Steps.AssertionsPassed += f.Steps.AssertionsPassed
		s.Steps.AssertionsFailed += f.Steps.AssertionsFailed
	}
	return s
}

// runStatus is running while any flow is unfinished, failed if any flow
// failed, passed otherwise. A run whose flows were all skipped passes.
func runStatus(flows []FlowEntry) Status {
	failed := false
	for _, f := range flows {
		if !f.Status.IsTerminal() {
			return StatusRunning
		}
		if f.Status == StatusFailed {
			failed = true
		}
	}
	if failed {
		return StatusFailed
	}
	return StatusPassed
}

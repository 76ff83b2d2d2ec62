package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
)

func testFlows() []*flow.Flow {
	return []*flow.Flow{
		{ID: 1, Name: "login", Steps: []flow.Step{{Name: "auth"}, {Name: "me"}}},
		{SourcePath: "/tmp/flows/orders.yaml", Steps: []flow.Step{{Name: "list"}}},
	}
}

func TestBuildSkeleton(t *testing.T) {
	index, details := BuildSkeleton(testFlows(), BuilderConfig{RunnerVersion: "0.1.0", RunID: "run-1"})

	if index.Status != StatusPending {
		t.Errorf("Status = %q, want pending", index.Status)
	}
	if index.Summary.Total != 2 || index.Summary.Pending != 2 {
		t.Errorf("Summary = %+v", index.Summary)
	}
	if index.Runner.RunID != "run-1" {
		t.Errorf("RunID = %q", index.Runner.RunID)
	}

	tests := []struct {
		idx      int
		id       string
		name     string
		dataFile string
		steps    int
	}{
		{0, "flow-000", "login", filepath.Join("flows", "flow-000.json"), 2},
		{1, "flow-001", "orders", filepath.Join("flows", "flow-001.json"), 1},
	}
	for _, tt := range tests {
		entry := index.Flows[tt.idx]
		if entry.ID != tt.id || entry.Name != tt.name || entry.DataFile != tt.dataFile {
			t.Errorf("entry %d = %+v", tt.idx, entry)
		}
		if entry.Steps.Total != tt.steps || details[tt.idx].StepCount != tt.steps {
			t.Errorf("entry %d steps = %d, want %d", tt.idx, entry.Steps.Total, tt.steps)
		}
	}
}

func createTestFlowWriter(t *testing.T) (*FlowWriter, *IndexWriter, string) {
	tmpDir := t.TempDir()

	index, details := BuildSkeleton(testFlows()[:1], BuilderConfig{})
	if err := WriteSkeleton(tmpDir, index, details); err != nil {
		t.Fatalf("WriteSkeleton() error = %v", err)
	}

	indexWriter := NewIndexWriter(tmpDir, index)
	flowWriter := NewFlowWriter(&details[0], tmpDir, indexWriter)
	return flowWriter, indexWriter, tmpDir
}

func TestWriteSkeleton(t *testing.T) {
	_, iw, tmpDir := createTestFlowWriter(t)
	defer iw.Close()

	for _, path := range []string{"report.json", filepath.Join("flows", "flow-000.json")} {
		if _, err := os.Stat(filepath.Join(tmpDir, path)); err != nil {
			t.Errorf("%s not written: %v", path, err)
		}
	}
}

func TestFlowWriter_Lifecycle(t *testing.T) {
	fw, iw, tmpDir := createTestFlowWriter(t)

	before := time.Now()
	fw.Start()
	if fw.flow.StartTime.Before(before) {
		t.Error("StartTime not set")
	}

	step := core.StepResult{RequestName: "auth", Iteration: 1, Status: core.StatusPassed,
		PostScript: &core.ScriptResult{AssertionsPassed: 2}}
	fw.StepComplete(step)
	fw.StepComplete(core.StepResult{RequestName: "me", Iteration: 1, Status: core.StatusFailed, Error: "boom"})

	summary := fw.stepSummary()
	if summary.Executed != 2 || summary.Passed != 1 || summary.Failed != 1 || summary.AssertionsPassed != 2 {
		t.Errorf("stepSummary() = %+v", summary)
	}

	result := &core.FlowResult{FlowName: "login", Steps: fw.flow.Result.Steps, Error: "step me failed", ErrorCode: "transport"}
	fw.End(result)
	iw.End()
	iw.Close()

	index, flows, err := ReadReport(tmpDir)
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}
	if index.Status != StatusFailed {
		t.Errorf("index status = %q, want failed", index.Status)
	}
	entry := index.Flows[0]
	if entry.Status != StatusFailed || entry.Error == nil || *entry.Error != "step me failed" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Duration == nil {
		t.Error("duration not recorded")
	}
	if entry.ErrorCode != "transport" {
		t.Errorf("error code = %q", entry.ErrorCode)
	}
	if s := index.Summary.Steps; s.Executed != 2 || s.Failed != 1 || s.AssertionsPassed != 2 {
		t.Errorf("run step summary = %+v", s)
	}
	if len(flows) != 1 || len(flows[0].Result.Steps) != 2 {
		t.Fatalf("flows = %+v", flows)
	}
	if flows[0].Result.Steps[1].Status != core.StatusFailed {
		t.Errorf("step status = %v, want failed", flows[0].Result.Steps[1].Status)
	}
}

func TestFlowWriter_Skip(t *testing.T) {
	fw, iw, tmpDir := createTestFlowWriter(t)
	fw.Skip("run cancelled")
	iw.End()
	iw.Close()

	index, err := ReadIndex(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if index.Flows[0].Status != StatusSkipped || index.Summary.Skipped != 1 {
		t.Errorf("index = %+v", index)
	}
	if index.Status != StatusPassed {
		t.Errorf("run status = %q, want passed", index.Status)
	}
}

func TestIndexWriter_ConcurrentUpdates(t *testing.T) {
	tmpDir := t.TempDir()
	index, details := BuildSkeleton(testFlows(), BuilderConfig{})
	if err := WriteSkeleton(tmpDir, index, details); err != nil {
		t.Fatal(err)
	}
	iw := NewIndexWriter(tmpDir, index)
	iw.Start()

	done := make(chan struct{})
	for i := range details {
		go func(d *FlowDetail) {
			fw := NewFlowWriter(d, tmpDir, iw)
			fw.Start()
			fw.End(&core.FlowResult{Success: true})
			done <- struct{}{}
		}(&details[i])
	}
	for range details {
		<-done
	}
	iw.End()
	iw.Close()

	got := iw.Snapshot()
	if got.Summary.Passed != 2 || got.Status != StatusPassed {
		t.Errorf("summary = %+v status = %q", got.Summary, got.Status)
	}
}

func TestReadReport_Missing(t *testing.T) {
	if _, _, err := ReadReport(t.TempDir()); err == nil {
		t.Error("expected error for missing report")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusPassed, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
	if StatusOf(true) != StatusPassed || StatusOf(false) != StatusFailed {
		t.Error("StatusOf mismatch")
	}
}

package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string // Base output directory for reports
	RunnerVersion string
	RunID         string
}

// BuildSkeleton creates the initial report structure from parsed flows.
// All flows are set to "pending" status.
func BuildSkeleton(flows []*flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Runner: RunnerInfo{
			Version: cfg.RunnerVersion,
			RunID:   cfg.RunID,
		},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Flows: make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))
	for i, f := range flows {
		flowID := fmt.Sprintf("flow-%03d", i)
		flowName := FlowName(f)

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			Status:     StatusPending,
			Steps:      StepSummary{Total: len(f.Steps)},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			Tags:       f.Tags,
			Status:     StatusPending,
			StepCount:  len(f.Steps),
		}
		flowDetails[i].Result.FlowID = f.ID
		flowDetails[i].Result.FlowName = flowName
	}

	return index, flowDetails
}

// FlowName returns the flow's display name, falling back to the file name.
func FlowName(f *flow.Flow) string {
	if f.Name != "" {
		return f.Name
	}
	base := filepath.Base(f.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteSkeleton writes the initial skeleton to disk.
// Creates report.json and all flow detail files with pending status.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}
	}

	indexPath := filepath.Join(outputDir, "report.json")
	if err := atomicWriteJSON(indexPath, index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Package executor orchestrates flow execution: it runs step iterations,
// drives the flow state machine and connects runs to persistence and reports.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/report"
	"github.com/devicelab-dev/apiflow/pkg/store"
	"github.com/devicelab-dev/apiflow/pkg/store/memory"
	"github.com/devicelab-dev/apiflow/pkg/template"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// RunnerConfig configures the flow runner.
type RunnerConfig struct {
	OutputDir   string  // Report output directory for batch runs
	Parallelism int     // Max concurrent flows in batch runs (0 or 1 = sequential)
	StopOnFail  bool    // Skip remaining flows after the first failure
	StepIDs     []int64 // Selected-run mode applied to every flow of a batch

	FailOnHTTPError bool          // Treat non-2xx responses as step failures
	FlushPolicy     FlushPolicy   // When durable variable writes are persisted
	ScriptTimeout   time.Duration // Per script invocation, defaults to 5s

	Refs          vars.Refs         // Default durable variable sets
	GlobalProxyID *int64            // Proxy for steps without a proxyId
	Env           map[string]string // Initial runtime variables for every run

	RunnerVersion string

	// Live progress callbacks
	OnFlowStart    func(flowIdx, totalFlows int, name, file string)
	OnStepComplete func(flowName string, result core.StepResult)
	OnFlowEnd      func(name string, passed bool, durationMs int64)
}

// Dependencies are the collaborators a Runner talks to. Only Transport is
// required.
type Dependencies struct {
	Transport core.Transport
	Scripts   ScriptEngine       // nil selects the goja engine
	Flows     store.FlowStore    // Needed by RunFlow
	Proxies   store.ProxyStore   // Needed for explicit proxy IDs
	History   store.HistoryStore // Receives RunRequest entries
	Variables vars.Backend       // nil keeps durable scopes in process memory
}

// RunOptions tune a single run.
type RunOptions struct {
	StepIDs       []int64                // Selected-run mode; empty runs every step
	EnvironmentID string                 // Overrides RunnerConfig.Refs when set
	CollectionID  string                 // Overrides RunnerConfig.Refs when set
	Variables     map[string]interface{} // Extra initial runtime variables
	GlobalProxyID *int64                 // Overrides RunnerConfig.GlobalProxyID

	OnStep func(core.StepResult)
}

// RunResult contains the outcome of a batch run.
type RunResult struct {
	Status       report.Status
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Duration     int64 // Total duration in milliseconds
	Flows        []FlowSummary
}

// FlowSummary contains the outcome of a single flow in a batch run.
type FlowSummary struct {
	ID       string // Report flow ID
	Name     string
	Status   report.Status
	Duration int64
	Error    string
	Result   *core.FlowResult // nil for flows that never ran
}

// Runner orchestrates flow execution. It is safe for concurrent use; each
// run gets its own variable overlay over the shared backend.
type Runner struct {
	config  RunnerConfig
	deps    Dependencies
	scripts *ScriptAdapter
}

// New creates a new Runner.
func New(deps Dependencies, cfg RunnerConfig) *Runner {
	if deps.Variables == nil {
		deps.Variables = memory.New()
	}
	if cfg.FlushPolicy == "" {
		cfg.FlushPolicy = FlushPerStep
	}
	return &Runner{
		config:  cfg,
		deps:    deps,
		scripts: NewScriptAdapter(deps.Scripts, cfg.ScriptTimeout),
	}
}

// RunFlow loads a stored flow and executes it.
func (r *Runner) RunFlow(ctx context.Context, flowID int64, opts RunOptions) (*core.FlowResult, error) {
	if r.deps.Flows == nil {
		return nil, core.ErrInvalidConfig.WithMessage("no flow store configured")
	}
	f, err := r.deps.Flows.GetFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.ErrFlowNotFound.WithCause(err)
		}
		return nil, fmt.Errorf("load flow %d: %w", flowID, err)
	}
	return r.ExecuteFlow(ctx, f, opts)
}

// ExecuteFlow runs f. Errors are returned only when the run could not
// start; failures during the run are reported on the FlowResult.
func (r *Runner) ExecuteFlow(ctx context.Context, f *flow.Flow, opts RunOptions) (*core.FlowResult, error) {
	refs := r.config.Refs
	if opts.EnvironmentID != "" {
		refs.EnvironmentID = opts.EnvironmentID
	}
	if opts.CollectionID != "" {
		refs.CollectionID = opts.CollectionID
	}

	st := vars.NewStore(r.deps.Variables, refs)
	if err := st.Load(ctx); err != nil {
		return nil, fmt.Errorf("load variables: %w", err)
	}
	if err := seedRuntime(st, r.config.Env, f.Env, opts.Variables); err != nil {
		return nil, err
	}

	proxyID := r.config.GlobalProxyID
	if opts.GlobalProxyID != nil {
		proxyID = opts.GlobalProxyID
	}
	globalProxy, err := r.resolveGlobalProxy(ctx, proxyID)
	if err != nil {
		return nil, err
	}

	exec := &StepExecutor{
		Transport:       r.deps.Transport,
		Scripts:         r.scripts,
		GlobalProxy:     globalProxy,
		FailOnHTTPError: r.config.FailOnHTTPError,
	}
	if r.deps.Proxies != nil {
		exec.Proxies = r.deps.Proxies
	}

	fr := NewFlowRunner(ctx, f, opts.StepIDs, st, exec, uuid.NewString())
	fr.flush = r.config.FlushPolicy
	fr.onStep = opts.OnStep
	return fr.Run(), nil
}

// RunRequest executes a single ad-hoc request as a one-step flow and
// appends it to the request history.
func (r *Runner) RunRequest(ctx context.Context, step flow.Step, opts RunOptions) (*core.FlowResult, error) {
	step.StepOrder = 1
	f := &flow.Flow{Name: step.Describe(), Steps: []flow.Step{step}}
	opts.StepIDs = nil

	result, err := r.ExecuteFlow(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	if r.deps.History != nil {
		if herr := r.deps.History.AppendHistory(ctx, store.NewHistoryEntry(result)); herr != nil {
			logger.L().Warn("append history failed", zap.String("runId", result.RunID), zap.Error(herr))
		}
	}
	return result, nil
}

func (r *Runner) resolveGlobalProxy(ctx context.Context, id *int64) (*core.Proxy, error) {
	if id == nil || *id <= 0 {
		return nil, nil
	}
	if r.deps.Proxies == nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("global proxy %d set but no proxy store is configured", *id))
	}
	p, err := r.deps.Proxies.GetProxy(ctx, *id)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("global proxy %d", *id)).WithCause(err)
	}
	return p, nil
}

// seedRuntime sets initial runtime variables. Flow env values may reference
// variables already set, including durable ones.
func seedRuntime(st *vars.Store, base, flowEnv map[string]string, extra map[string]interface{}) error {
	for _, env := range []map[string]string{base, flowEnv} {
		for k, v := range env {
			if err := st.Set(core.ScopeRuntime, k, template.Render(v, st)); err != nil {
				return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("env %s", k)).WithCause(err)
			}
		}
	}
	for k, v := range extra {
		if err := st.Set(core.ScopeRuntime, k, v); err != nil {
			return core.ErrInvalidConfig.WithMessage(fmt.Sprintf("variable %s", k)).WithCause(err)
		}
	}
	return nil
}

// Run executes a batch of flows and writes reports to OutputDir.
func (r *Runner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	if r.config.OutputDir == "" {
		return nil, fmt.Errorf("report output directory is required")
	}

	// Build report skeleton
	index, flowDetails := report.BuildSkeleton(flows, report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		RunnerVersion: r.config.RunnerVersion,
		RunID:         uuid.NewString(),
	})

	// Write initial skeleton to disk
	if err := report.WriteSkeleton(r.config.OutputDir, index, flowDetails); err != nil {
		return nil, err
	}

	// Create index writer for coordinated updates
	indexWriter := report.NewIndexWriter(r.config.OutputDir, index)
	defer indexWriter.Close()

	indexWriter.Start()
	startTime := time.Now()

	var results []FlowSummary
	if r.config.Parallelism > 1 {
		results = NewParallelRunner(r, r.config.Parallelism).executeFlows(ctx, flows, flowDetails, indexWriter)
	} else {
		results = r.executeFlows(ctx, flows, flowDetails, indexWriter)
	}

	indexWriter.End()
	return buildRunResult(results, time.Since(startTime).Milliseconds()), nil
}

// executeFlows runs flows sequentially.
func (r *Runner) executeFlows(ctx context.Context, flows []*flow.Flow, flowDetails []report.FlowDetail, indexWriter *report.IndexWriter) []FlowSummary {
	results := make([]FlowSummary, len(flows))
	stopped := false

	for i := range flows {
		if stopped || ctx.Err() != nil {
			reason := "run cancelled"
			if stopped {
				reason = "run stopped"
			}
			results[i] = r.skipFlow(&flowDetails[i], indexWriter, reason)
			continue
		}
		results[i] = r.executeFlow(ctx, flows[i], &flowDetails[i], indexWriter, i, len(flows))
		if r.config.StopOnFail && results[i].Status == report.StatusFailed {
			stopped = true
		}
	}
	return results
}

func (r *Runner) skipFlow(detail *report.FlowDetail, indexWriter *report.IndexWriter, reason string) FlowSummary {
	report.NewFlowWriter(detail, r.config.OutputDir, indexWriter).Skip(reason)
	return FlowSummary{
		ID:     detail.ID,
		Name:   detail.Name,
		Status: report.StatusSkipped,
		Error:  reason,
	}
}

// executeFlow runs a single flow of a batch and reports its progress.
func (r *Runner) executeFlow(ctx context.Context, f *flow.Flow, detail *report.FlowDetail, indexWriter *report.IndexWriter, flowIdx, totalFlows int) FlowSummary {
	flowStart := time.Now()
	flowWriter := report.NewFlowWriter(detail, r.config.OutputDir, indexWriter)

	if r.config.OnFlowStart != nil {
		r.config.OnFlowStart(flowIdx, totalFlows, detail.Name, f.SourcePath)
	}
	flowWriter.Start()

	opts := RunOptions{
		OnStep: func(res core.StepResult) {
			flowWriter.StepComplete(res)
			if r.config.OnStepComplete != nil {
				r.config.OnStepComplete(detail.Name, res)
			}
		},
	}

	opts.StepIDs = r.config.StepIDs

	result, err := r.ExecuteFlow(ctx, f, opts)
	if err != nil {
		result = &core.FlowResult{FlowID: f.ID, FlowName: detail.Name, StartTime: flowStart}
		result.Fail(err)
	}
	if result.FlowName == "" {
		result.FlowName = detail.Name
	}
	flowWriter.End(result)

	duration := time.Since(flowStart).Milliseconds()
	if r.config.OnFlowEnd != nil {
		r.config.OnFlowEnd(detail.Name, result.Success, duration)
	}

	return FlowSummary{
		ID:       detail.ID,
		Name:     detail.Name,
		Status:   report.StatusOf(result.Success),
		Duration: duration,
		Error:    result.Error,
		Result:   result,
	}
}

// buildRunResult aggregates flow results into a run result.
func buildRunResult(flowResults []FlowSummary, duration int64) *RunResult {
	result := &RunResult{
		TotalFlows: len(flowResults),
		Flows:      flowResults,
		Duration:   duration,
	}

	for _, fr := range flowResults {
		switch fr.Status {
		case report.StatusPassed:
			result.PassedFlows++
		case report.StatusFailed:
			result.FailedFlows++
		case report.StatusSkipped:
			result.SkippedFlows++
		}
	}

	if result.FailedFlows > 0 {
		result.Status = report.StatusFailed
	} else {
		result.Status = report.StatusPassed // All passed or skipped
	}
	return result
}

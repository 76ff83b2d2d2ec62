package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/logger"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// FlushPolicy controls when staged durable variable writes are persisted.
type FlushPolicy string

const (
	// FlushPerStep persists after every successful step iteration.
	FlushPerStep FlushPolicy = "per_step"
	// FlushEndOfRun persists once when the run succeeds.
	FlushEndOfRun FlushPolicy = "end_of_run"
)

// ParseFlushPolicy accepts "", per_step and end_of_run.
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch FlushPolicy(s) {
	case "", FlushPerStep:
		return FlushPerStep, nil
	case FlushEndOfRun:
		return FlushEndOfRun, nil
	}
	return "", fmt.Errorf("unknown flush policy %q", s)
}

// FlowRunner is the state machine executing one flow run. The instruction
// pointer moves over the steps ordered by stepOrder; directives returned by
// each iteration move it.
type FlowRunner struct {
	ctx    context.Context
	flow   *flow.Flow
	steps  []flow.Step
	store  *vars.Store
	exec   *StepExecutor
	flush  FlushPolicy
	log    *zap.Logger
	result *core.FlowResult

	// Called after every appended step result
	onStep func(core.StepResult)

	repeats int
	gotos   int
}

// NewFlowRunner prepares a run over f's steps, restricted to stepIDs when
// the list is non-empty.
func NewFlowRunner(ctx context.Context, f *flow.Flow, stepIDs []int64, store *vars.Store, exec *StepExecutor, runID string) *FlowRunner {
	f.Normalize()
	return &FlowRunner{
		ctx:   ctx,
		flow:  f,
		steps: f.Ordered(stepIDs),
		store: store,
		exec:  exec,
		flush: FlushPerStep,
		log:   logger.L().With(zap.String("runId", runID), zap.String("flow", f.Name)),
		result: &core.FlowResult{
			RunID:    runID,
			FlowID:   f.ID,
			FlowName: f.Name,
			Success:  true,
		},
	}
}

// Run executes the flow and returns the result. The result is complete
// even when the run fails.
func (fr *FlowRunner) Run() *core.FlowResult {
	start := time.Now()
	fr.result.StartTime = start
	defer func() {
		fr.result.TotalTimeMs = time.Since(start).Milliseconds()
		fr.result.Repeats = fr.repeats
		fr.result.Gotos = fr.gotos
		fr.result.ComputeSummary()
	}()

	fr.log.Info("flow started", zap.Int("steps", len(fr.steps)))

	idx, iteration := 0, 1
	for idx < len(fr.steps) {
		if err := fr.ctx.Err(); err != nil {
			fr.abort(core.ErrCancelled.WithCause(err), idx, core.SkipCancelled)
			return fr.result
		}

		step := &fr.steps[idx]
		out := fr.exec.Execute(fr.ctx, step, iterationInfo{flowName: fr.flow.Name, iteration: iteration}, fr.store)

		if out.Failed() && errors.Is(out.Err, core.ErrCancelled) {
			fr.append(out.Result)
			fr.abort(out.Err, idx+1, core.SkipCancelled)
			return fr.result
		}

		if out.Fatal != nil {
			fr.append(out.Result)
			fr.abort(out.Fatal, idx+1, core.SkipNotExecuted)
			return fr.result
		}

		directive := out.Result.Directive.Normalize()
		if out.Failed() {
			fr.log.Warn("step failed",
				zap.String("step", step.Describe()),
				zap.Int("iteration", iteration),
				zap.Error(out.Err))
			if !step.ContinueOnError {
				fr.append(out.Result)
				fr.abort(out.Err, idx+1, core.SkipNotExecuted)
				return fr.result
			}
			directive = core.Next()
			out.Result.Directive = directive
		} else if fr.flush == FlushPerStep && !out.Result.Skipped {
			fr.flushVars(&out.Result)
		}
		fr.append(out.Result)

		if out.ConditionSkip {
			idx, iteration = idx+1, 1
			continue
		}

		switch directive.Action {
		case core.ActionNext:
			iteration++
			if iteration > step.Loops() {
				idx, iteration = idx+1, 1
			}

		case core.ActionStop:
			fr.log.Info("flow stopped by directive", zap.String("step", step.Describe()))
			fr.finish()
			return fr.result

		case core.ActionRepeat:
			fr.repeats++
			if fr.repeats > core.MaxRepeats {
				fr.abort(core.ErrRepeatCeiling.WithDetails(map[string]interface{}{
					"step":  step.Describe(),
					"limit": core.MaxRepeats,
				}), idx+1, core.SkipNotExecuted)
				return fr.result
			}
			iteration = 1

		case core.ActionGoto:
			fr.gotos++
			if fr.gotos > core.MaxGotos {
				fr.abort(core.ErrGotoCeiling.WithDetails(map[string]interface{}{
					"step":  step.Describe(),
					"limit": core.MaxGotos,
				}), idx+1, core.SkipNotExecuted)
				return fr.result
			}
			target, ok := flow.FindTarget(fr.steps, directive.Target)
			if !ok {
				fr.abort(core.ErrGotoTarget.WithMessage(
					fmt.Sprintf("goto target %q not found", directive.Target)), idx+1, core.SkipNotExecuted)
				return fr.result
			}
			idx, iteration = target, 1

		case core.ActionFatal:
			fr.abort(core.ErrFatalDirective.WithMessage(directive.Reason), idx+1, core.SkipNotExecuted)
			return fr.result

		default:
			fr.abort(core.ErrInvalidConfig.WithMessage(
				fmt.Sprintf("unknown directive %q", directive.Action)), idx+1, core.SkipNotExecuted)
			return fr.result
		}
	}

	fr.finish()
	return fr.result
}

// finish completes a successful run.
func (fr *FlowRunner) finish() {
	if fr.store.HasPending() {
		if err := fr.store.Flush(fr.ctx); err != nil {
			fr.log.Error("variable flush failed", zap.Error(err))
			fr.result.Fail(fmt.Errorf("persist variables: %w", err))
			return
		}
	}
	fr.log.Info("flow passed", zap.Int("results", len(fr.result.Steps)))
}

// abort fails the run and appends a skipped result for every step from
// index from onwards.
func (fr *FlowRunner) abort(err error, from int, reason core.SkipReason) {
	fr.store.Discard()
	fr.result.Fail(err)
	for i := from; i < len(fr.steps); i++ {
		s := &fr.steps[i]
		res := core.StepResult{
			StepID:      s.ID,
			RequestName: s.Describe(),
			StepOrder:   s.StepOrder,
			LoopCount:   s.Loops(),
			Directive:   core.Next(),
		}
		skip(&res, reason)
		fr.append(res)
	}
	fr.log.Error("flow failed", zap.Error(err))
}

// flushVars persists staged writes; a failure stays pending for the next
// attempt and is reported as a warning on the step.
func (fr *FlowRunner) flushVars(res *core.StepResult) {
	if !fr.store.HasPending() {
		return
	}
	if err := fr.store.Flush(fr.ctx); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("persist variables: %v", err))
		fr.log.Warn("variable flush failed", zap.Error(err))
	}
}

func (fr *FlowRunner) append(res core.StepResult) {
	fr.result.Append(res)
	if fr.onStep != nil {
		fr.onStep(res)
	}
}

package executor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/devicelab-dev/apiflow/pkg/condition"
	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/flow"
	"github.com/devicelab-dev/apiflow/pkg/jsonpath"
	"github.com/devicelab-dev/apiflow/pkg/template"
	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// ProxyResolver looks up proxies referenced by steps.
type ProxyResolver interface {
	GetProxy(ctx context.Context, id int64) (*core.Proxy, error)
}

// StepExecutor runs single step iterations: condition, pre-script,
// dispatch, extraction and post-script.
type StepExecutor struct {
	Transport       core.Transport
	Scripts         *ScriptAdapter
	Proxies         ProxyResolver // nil disables explicit proxy IDs
	GlobalProxy     *core.Proxy   // Used by steps without a proxyId
	FailOnHTTPError bool
}

// StepOutcome is the result of one iteration plus the failure that the
// flow controller acts on.
type StepOutcome struct {
	Result core.StepResult
	Err    error // Non-nil when the iteration failed

	// Fatal ends the run whatever continueOnError says: malformed
	// conditions and ceiling breaches reported by scripts.
	Fatal error

	// ConditionSkip ends the step's remaining iterations
	ConditionSkip bool
}

// Failed reports whether the iteration failed.
func (o *StepOutcome) Failed() bool {
	return o.Err != nil
}

// iterationInfo identifies the iteration being executed.
type iterationInfo struct {
	flowName  string
	iteration int
}

// Execute runs one iteration of step against store.
func (x *StepExecutor) Execute(ctx context.Context, step *flow.Step, info iterationInfo, store *vars.Store) *StepOutcome {
	start := time.Now()
	out := &StepOutcome{Result: core.StepResult{
		StepID:      step.ID,
		RequestName: step.Describe(),
		StepOrder:   step.StepOrder,
		Iteration:   info.iteration,
		LoopCount:   step.Loops(),
		Status:      core.StatusRunning,
		StartTime:   start,
		Directive:   core.Next(),
	}}
	res := &out.Result
	defer func() {
		res.Duration = time.Since(start).Milliseconds()
	}()

	stepCtx := vars.StepContext{
		FlowName:  info.flowName,
		StepName:  step.Name,
		StepOrder: step.StepOrder,
		Iteration: info.iteration,
		LoopCount: step.Loops(),
	}
	store.SetBuiltins(vars.Builtins(stepCtx))

	if step.Condition != "" {
		ok, err := condition.Evaluate(step.Condition, store)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("condition: %v", err))
			skip(res, core.SkipCondition)
			out.Fatal = core.ErrInvalidCondition.WithCause(err)
			res.Error = out.Fatal.Error()
			return out
		}
		if !ok {
			skip(res, core.SkipCondition)
			out.ConditionSkip = true
			return out
		}
	}

	execInfo := core.ExecutionInfo{
		FlowName:  info.flowName,
		StepName:  step.Name,
		StepOrder: step.StepOrder,
		Iteration: info.iteration,
		LoopCount: step.Loops(),
	}

	// Pre-script
	if strings.TrimSpace(step.PreScript) != "" {
		sc := &core.ScriptContext{
			Phase:     core.PhasePre,
			Request:   renderRequest(step, store),
			Execution: execInfo,
			Transport: x.Transport,
		}
		pre := x.Scripts.Run(ctx, step.PreScript, sc, store)
		res.PreScript = pre
		if pre.Violation != nil {
			return x.violate(out, pre.Violation)
		}
		if pre.Failed() {
			return x.fail(out, scriptFailure(pre, core.PhasePre))
		}
		if pre.SkipRequest {
			skip(res, core.SkipRequest)
			return out
		}
	}

	if step.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(step.DelayMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			skip(res, core.SkipCancelled)
			out.Err = core.ErrCancelled.WithCause(ctx.Err())
			return out
		case <-timer.C:
		}
	}

	// Dispatch
	req := renderRequest(step, store)
	proxy, err := x.resolveProxy(ctx, step)
	if err != nil {
		res.Request = req
		return x.fail(out, core.ErrInvalidConfig.WithMessage(err.Error()))
	}
	req.Proxy = proxy
	res.Request = req

	resp := x.Transport.Dispatch(ctx, req)
	if resp == nil {
		resp = &core.ExecuteResult{Error: "transport returned no result"}
	}
	res.Execute = resp
	if ctx.Err() != nil {
		skip(res, core.SkipCancelled)
		out.Err = core.ErrCancelled.WithCause(ctx.Err())
		return out
	}
	if resp.Failed() {
		return x.fail(out, core.ErrTransport.WithMessage(resp.Error))
	}

	stepCtx.HasResponse = true
	stepCtx.StatusCode = resp.StatusCode
	stepCtx.ResponseTimeMs = resp.DurationMs
	store.SetBuiltins(vars.Builtins(stepCtx))

	x.extract(step, resp, store, res)

	// Post-script
	if strings.TrimSpace(step.PostScript) != "" {
		sc := &core.ScriptContext{
			Phase:     core.PhasePost,
			Request:   req,
			Response:  resp,
			Execution: execInfo,
			Transport: x.Transport,
		}
		post := x.Scripts.Run(ctx, step.PostScript, sc, store)
		res.PostScript = post
		for k, v := range post.ExtractedVars {
			if res.ExtractedVars == nil {
				res.ExtractedVars = make(map[string]interface{})
			}
			res.ExtractedVars[k] = v
		}
		res.Directive = post.Directive
		if post.Violation != nil {
			return x.violate(out, post.Violation)
		}
		if post.Failed() {
			return x.fail(out, scriptFailure(post, core.PhasePost))
		}
	}

	if x.FailOnHTTPError && !resp.Is2xx() {
		return x.fail(out, core.ErrHTTPStatus.WithMessage(
			fmt.Sprintf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))))
	}

	res.Status = core.StatusPassed
	return out
}

func skip(res *core.StepResult, reason core.SkipReason) {
	res.Status = core.StatusSkipped
	res.Skipped = true
	res.SkipReason = reason
}

func (x *StepExecutor) fail(out *StepOutcome, err error) *StepOutcome {
	out.Result.Status = core.StatusFailed
	out.Result.Error = err.Error()
	out.Err = err
	return out
}

func (x *StepExecutor) violate(out *StepOutcome, err error) *StepOutcome {
	x.fail(out, err)
	out.Fatal = err
	return out
}

// extract applies extractVars into the runtime scope. Missing paths are
// warnings, not failures.
func (x *StepExecutor) extract(step *flow.Step, resp *core.ExecuteResult, store *vars.Store, res *core.StepResult) {
	if len(step.ExtractVars) == 0 {
		return
	}
	names := make([]string, 0, len(step.ExtractVars))
	for name := range step.ExtractVars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := template.Render(step.ExtractVars[name], store)
		v, err := jsonpath.Extract(resp.Body, path)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("extract %s from %s: %v", name, path, err))
			continue
		}
		if err := store.Set(core.ScopeRuntime, name, v); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("extract %s: %v", name, err))
			continue
		}
		if res.ExtractedVars == nil {
			res.ExtractedVars = make(map[string]interface{})
		}
		res.ExtractedVars[name] = v
	}
}

// resolveProxy applies the step's proxyId: nil inherits the global proxy,
// 0 disables proxying, a positive ID is looked up.
func (x *StepExecutor) resolveProxy(ctx context.Context, step *flow.Step) (*core.Proxy, error) {
	if step.ProxyID == nil {
		return x.GlobalProxy, nil
	}
	id := *step.ProxyID
	if id <= 0 {
		return nil, nil
	}
	if x.Proxies == nil {
		return nil, fmt.Errorf("proxy %d requested but no proxy store is configured", id)
	}
	p, err := x.Proxies.GetProxy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve proxy %d: %w", id, err)
	}
	return p, nil
}

// renderRequest substitutes placeholders in every request field.
func renderRequest(step *flow.Step, lookup template.Lookup) *core.Request {
	bodyType := step.EffectiveBodyType()
	req := &core.Request{
		Method:   step.HTTPMethod(),
		URL:      strings.TrimSpace(template.Render(step.URL, lookup)),
		BodyType: bodyType,
	}
	if len(step.Headers) > 0 {
		req.Headers = make(map[string]string, len(step.Headers))
		for k, v := range step.Headers {
			req.Headers[template.Render(k, lookup)] = template.Render(v, lookup)
		}
	}
	switch bodyType {
	case flow.BodyNone:
	case flow.BodyJSON:
		req.Body = template.RenderJSON(step.Body, lookup)
	case flow.BodyGraphQL:
		if strings.HasPrefix(strings.TrimSpace(step.Body), "{") {
			req.Body = template.RenderJSON(step.Body, lookup)
		} else {
			req.Body = template.Render(step.Body, lookup)
		}
	default:
		req.Body = template.Render(step.Body, lookup)
	}
	return req
}

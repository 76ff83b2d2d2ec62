// Package jsengine runs step pre/post scripts written in JavaScript.
//
// Every invocation gets a fresh goja runtime with no filesystem, process
// or module access. Scripts reach the host only through the capability
// objects installed here: vars, env, collection, globals, request,
// response, test/expect, execution, http and console.
package jsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

var errTimeout = errors.New("script timeout")

// Engine is a single script invocation.
type Engine struct {
	runtime *goja.Runtime
	ctx     context.Context
	sc      *core.ScriptContext
	result  *core.ScriptResult

	mu         sync.Mutex
	httpCalls  int
	inTest     bool
	overflowed bool
}

// New prepares an engine for one invocation of a script in sc.
func New(ctx context.Context, sc *core.ScriptContext) *Engine {
	if ctx == nil {
		ctx = context.Background()
	}
	if sc == nil {
		sc = &core.ScriptContext{Phase: core.PhasePost}
	}
	e := &Engine{
		runtime: goja.New(),
		ctx:     ctx,
		sc:      sc,
		result:  core.NewScriptResult(core.ModeScript),
	}
	e.setupBuiltins()
	return e
}

// Runner adapts the engine to the executor's script engine interface.
type Runner struct{}

// Execute runs source with a fresh engine.
func (Runner) Execute(ctx context.Context, source string, sc *core.ScriptContext, timeout time.Duration) *core.ScriptResult {
	return New(ctx, sc).Run(source, timeout)
}

// setupBuiltins registers all capability objects
func (e *Engine) setupBuiltins() {
	e.setupConsole()

	e.runtime.Set("json", e.jsonFunc())

	e.runtime.Set("vars", e.scopeObject(core.ScopeRuntime, true))
	e.runtime.Set("env", e.scopeObject(core.ScopeEnvironment, false))
	e.runtime.Set("collection", e.scopeObject(core.ScopeCollection, false))
	e.runtime.Set("globals", e.scopeObject(core.ScopeGlobal, false))

	e.runtime.Set("request", e.requestObject())
	if e.sc.Phase == core.PhasePost && e.sc.Response != nil {
		e.runtime.Set("response", e.responseObject())
	}

	e.setupAssertions()
	e.runtime.Set("execution", e.executionObject())
	e.runtime.Set("http", e.httpModule())
}

// setupConsole captures console output into the result logs
func (e *Engine) setupConsole() {
	makeConsoleFunc := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = e.display(arg)
			}
			line := strings.Join(parts, " ")
			if level != "" {
				line = "[" + level + "] " + line
			}
			e.mu.Lock()
			e.result.Logs = append(e.result.Logs, line)
			e.mu.Unlock()
			return goja.Undefined()
		}
	}

	console := e.runtime.NewObject()
	console.Set("log", makeConsoleFunc(""))
	console.Set("info", makeConsoleFunc("info"))
	console.Set("warn", makeConsoleFunc("warn"))
	console.Set("error", makeConsoleFunc("error"))
	e.runtime.Set("console", console)
}

// display formats a value the way a console would: objects as JSON
func (e *Engine) display(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn {
			if b, err := json.Marshal(v.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

// jsonFunc returns the json() helper function
func (e *Engine) jsonFunc() func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(e.runtime.NewTypeError("json requires 1 argument"))
		}
		return e.parseJSON(call.Arguments[0].String())
	}
}

func (e *Engine) parseJSON(s string) goja.Value {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(e.runtime.NewTypeError(fmt.Sprintf("invalid JSON: %v", err)))
	}
	return e.runtime.ToValue(v)
}

// scopeObject exposes get/set/has/unset/clear for one scope. The runtime
// object reads through every scope, like template placeholders do.
func (e *Engine) scopeObject(scope core.Scope, resolveAll bool) *goja.Object {
	obj := e.runtime.NewObject()
	vars := e.sc.Vars

	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if vars == nil {
			return goja.Undefined()
		}
		var v interface{}
		var ok bool
		if resolveAll {
			v, ok = vars.Get(name)
		} else {
			v, ok = vars.GetIn(scope, name)
		}
		if !ok {
			return goja.Undefined()
		}
		return e.runtime.ToValue(v)
	})
	obj.Set("has", func(call goja.FunctionCall) bool {
		if vars == nil {
			return false
		}
		name := call.Argument(0).String()
		if resolveAll {
			return vars.Has(name)
		}
		_, ok := vars.GetIn(scope, name)
		return ok
	})
	obj.Set("set", func(call goja.FunctionCall) goja.Value {
		e.requireVars()
		name := call.Argument(0).String()
		if err := vars.Set(scope, name, exportValue(call.Argument(1))); err != nil {
			panic(e.runtime.NewTypeError(err.Error()))
		}
		return goja.Undefined()
	})
	obj.Set("unset", func(call goja.FunctionCall) goja.Value {
		e.requireVars()
		if err := vars.Unset(scope, call.Argument(0).String()); err != nil {
			panic(e.runtime.NewTypeError(err.Error()))
		}
		return goja.Undefined()
	})
	obj.Set("clear", func(call goja.FunctionCall) goja.Value {
		e.requireVars()
		if err := vars.Clear(scope); err != nil {
			panic(e.runtime.NewTypeError(err.Error()))
		}
		return goja.Undefined()
	})
	obj.Set("toObject", func(call goja.FunctionCall) goja.Value {
		if vars == nil {
			return e.runtime.NewObject()
		}
		return e.runtime.ToValue(vars.ScopeSnapshot(scope))
	})
	return obj
}

func (e *Engine) requireVars() {
	if e.sc.Vars == nil {
		panic(e.runtime.NewTypeError("variables are not available"))
	}
}

// exportValue converts a script value for storage. Integral numbers are
// stored as float64 like decoded JSON.
func exportValue(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case int64:
		return float64(x)
	case int:
		return float64(x)
	default:
		return x
	}
}

// requestObject exposes the rendered request
func (e *Engine) requestObject() *goja.Object {
	obj := e.runtime.NewObject()
	req := e.sc.Request
	if req == nil {
		req = &core.Request{}
	}
	headers := make(map[string]interface{}, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	obj.Set("method", req.Method)
	obj.Set("url", req.URL)
	obj.Set("headers", headers)
	obj.Set("body", req.Body)
	obj.Set("bodyType", req.BodyType)
	return obj
}

// executionObject exposes the iteration context and next-step control
func (e *Engine) executionObject() *goja.Object {
	obj := e.runtime.NewObject()
	info := e.sc.Execution

	obj.Set("iteration", info.Iteration)
	obj.Set("loopCount", info.LoopCount)
	obj.Set("stepName", info.StepName)
	obj.Set("stepOrder", info.StepOrder)
	obj.Set("flowName", info.FlowName)

	obj.Set("skipRequest", func(call goja.FunctionCall) goja.Value {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.sc.Phase != core.PhasePre {
			e.result.AddWarning("execution.skipRequest() only applies to pre-scripts")
			return goja.Undefined()
		}
		e.result.SkipRequest = true
		return goja.Undefined()
	})

	obj.Set("setNextRequest", func(call goja.FunctionCall) goja.Value {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.sc.Phase != core.PhasePost {
			e.result.AddWarning("execution.setNextRequest() only applies to post-scripts")
			return goja.Undefined()
		}
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			e.result.Directive = core.Stop()
			return goja.Undefined()
		}
		e.result.Directive = core.Goto(arg.String())
		return goja.Undefined()
	})
	return obj
}

// Run executes source, enforcing timeout and ctx cancellation.
func (e *Engine) Run(source string, timeout time.Duration) *core.ScriptResult {
	start := time.Now()
	defer func() {
		e.result.DurationMs = time.Since(start).Milliseconds()
	}()

	prog, err := goja.Compile("script.js", source, false)
	if err != nil {
		line, col := syntaxPosition(err)
		e.result.AddError(fmt.Sprintf("syntax error: %v", err), line, col)
		e.result.Cause = core.ErrInvalidScript.WithCause(err)
		return e.result
	}

	if timeout <= 0 {
		timeout = core.ScriptTimeout
	}
	// Host calls such as http.* block outside the interpreter, so the
	// deadline also travels on the context they receive.
	parent := e.ctx
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	e.ctx = ctx
	defer func() { e.ctx = parent }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				e.runtime.Interrupt(parent.Err())
			} else {
				e.runtime.Interrupt(errTimeout)
			}
		case <-done:
		}
	}()

	_, err = e.runtime.RunProgram(prog)
	if err != nil || ctx.Err() != nil {
		e.recordRunError(err, parent, ctx, timeout)
	}
	return e.result
}

func (e *Engine) recordRunError(err error, parent, ctx context.Context, timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// A host call cut short by the deadline surfaces as a script exception
	// before the interrupt is observed.
	if ctx.Err() != nil {
		if parent.Err() != nil {
			e.result.AddError(fmt.Sprintf("script cancelled: %v", parent.Err()), 0, 0)
			e.result.Cause = core.ErrCancelled.WithCause(parent.Err())
			return
		}
		e.result.AddError(fmt.Sprintf("script exceeded its time limit of %s", timeout), 0, 0)
		e.result.Cause = core.ErrScriptTimeout
		return
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch v := interrupted.Value().(type) {
		case error:
			if errors.Is(v, errTimeout) {
				e.result.AddError(fmt.Sprintf("script exceeded its time limit of %s", timeout), 0, 0)
				e.result.Cause = core.ErrScriptTimeout
				return
			}
			e.result.AddError(fmt.Sprintf("script cancelled: %v", v), 0, 0)
			e.result.Cause = core.ErrCancelled.WithCause(v)
			return
		}
		e.result.AddError(err.Error(), 0, 0)
		e.result.Cause = core.ErrScriptRuntime.WithCause(err)
		return
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		line, col := exceptionPosition(ex)
		e.result.AddError(ex.Value().String(), line, col)
		if e.result.Cause == nil {
			e.result.Cause = core.ErrScriptRuntime.WithCause(err)
		}
		return
	}

	e.result.AddError(err.Error(), 0, 0)
	e.result.Cause = core.ErrScriptRuntime.WithCause(err)
}

func syntaxPosition(err error) (int, int) {
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) && se.File != nil {
		pos := se.File.Position(se.Offset)
		return pos.Line, pos.Column
	}
	return 0, 0
}

func exceptionPosition(ex *goja.Exception) (int, int) {
	for _, frame := range ex.Stack() {
		pos := frame.Position()
		if pos.Line > 0 {
			return pos.Line, pos.Column
		}
	}
	return 0, 0
}

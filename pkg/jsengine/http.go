package jsengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/jsonpath"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// httpModule returns the http object with get, post, put, patch, delete
// and request methods. Calls go through the run's transport and count
// against the per-invocation quota.
func (e *Engine) httpModule() *goja.Object {
	obj := e.runtime.NewObject()

	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		method := method
		// http.<method>(url, [options])
		obj.Set(strings.ToLower(method), func(call goja.FunctionCall) goja.Value {
			return e.doHTTPRequest(method, call)
		})
	}

	// http.request(method, url, [options])
	obj.Set("request", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			panic(e.runtime.NewTypeError("http.request requires method and url"))
		}
		method := strings.ToUpper(call.Arguments[0].String())
		newCall := goja.FunctionCall{
			This:      call.This,
			Arguments: call.Arguments[1:],
		}
		return e.doHTTPRequest(method, newCall)
	})

	return obj
}

// doHTTPRequest dispatches one script-initiated request
func (e *Engine) doHTTPRequest(method string, call goja.FunctionCall) goja.Value {
	if len(call.Arguments) < 1 {
		panic(e.runtime.NewTypeError(fmt.Sprintf("http.%s requires url", strings.ToLower(method))))
	}
	if e.sc.Transport == nil {
		panic(e.runtime.NewTypeError("http is not available in this context"))
	}

	e.mu.Lock()
	e.httpCalls++
	over := e.httpCalls > core.MaxScriptHTTPCalls
	if over && e.result.Cause == nil {
		e.result.Cause = core.ErrScriptHTTPQuota
		e.result.AddError(fmt.Sprintf("script made more than %d http calls", core.MaxScriptHTTPCalls), 0, 0)
	}
	e.mu.Unlock()
	if over {
		panic(e.runtime.NewGoError(core.ErrScriptHTTPQuota))
	}

	req := &core.Request{
		Method:  method,
		URL:     call.Arguments[0].String(),
		Headers: make(map[string]string),
	}

	if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) && !goja.IsNull(call.Arguments[1]) {
		opts, ok := call.Arguments[1].Export().(map[string]interface{})
		if !ok {
			panic(e.runtime.NewTypeError("http options must be an object"))
		}
		if h, ok := opts["headers"].(map[string]interface{}); ok {
			for k, v := range h {
				req.Headers[k] = template.Stringify(v)
			}
		}
		if b, ok := opts["body"]; ok && b != nil {
			switch v := b.(type) {
			case string:
				req.Body = v
			default:
				data, err := json.Marshal(v)
				if err != nil {
					panic(e.runtime.NewTypeError(fmt.Sprintf("failed to encode body: %v", err)))
				}
				req.Body = string(data)
				req.BodyType = "json"
			}
		}
		if bt, ok := opts["bodyType"].(string); ok {
			req.BodyType = bt
		}
	}
	if e.sc.Request != nil {
		req.Proxy = e.sc.Request.Proxy
	}

	resp := e.sc.Transport.Dispatch(e.ctx, req)
	if resp == nil {
		panic(e.runtime.NewTypeError("HTTP request failed: no response"))
	}
	if resp.Failed() {
		panic(e.runtime.NewTypeError(fmt.Sprintf("HTTP request failed: %s", resp.Error)))
	}
	return e.wrapResponse(resp)
}

// responseObject exposes the step's response to post-scripts
func (e *Engine) responseObject() *goja.Object {
	return e.wrapResponse(e.sc.Response)
}

// wrapResponse builds the script view of an ExecuteResult
func (e *Engine) wrapResponse(resp *core.ExecuteResult) *goja.Object {
	obj := e.runtime.NewObject()
	headers := make(map[string]interface{}, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}

	obj.Set("status", resp.StatusCode)
	obj.Set("headers", headers)
	obj.Set("body", resp.Body)
	obj.Set("time", resp.DurationMs)
	obj.Set("size", resp.BodySize)
	obj.Set("ok", resp.Is2xx())

	obj.Set("json", func(call goja.FunctionCall) goja.Value {
		return e.parseJSON(resp.Body)
	})
	obj.Set("header", func(call goja.FunctionCall) goja.Value {
		v, ok := resp.Header(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return e.runtime.ToValue(v)
	})
	obj.Set("jsonPath", func(call goja.FunctionCall) goja.Value {
		v, err := jsonpath.Extract(resp.Body, call.Argument(0).String())
		if err != nil {
			return goja.Undefined()
		}
		return e.runtime.ToValue(v)
	})
	return obj
}

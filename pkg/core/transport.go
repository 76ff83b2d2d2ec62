package core

import (
	"context"
	"net/url"
	"strings"
)

// Transport dispatches rendered requests. Implementations own TLS, proxy
// dialing and timeouts; failures come back in ExecuteResult.Error.
type Transport interface {
	Dispatch(ctx context.Context, req *Request) *ExecuteResult
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, req *Request) *ExecuteResult

// Dispatch calls f(ctx, req)
func (f TransportFunc) Dispatch(ctx context.Context, req *Request) *ExecuteResult {
	return f(ctx, req)
}

// Proxy is an outbound HTTP proxy known to persistence
type Proxy struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// ParsedURL parses the proxy address
func (p *Proxy) ParsedURL() (*url.URL, error) {
	return url.Parse(p.URL)
}

// Request is a fully rendered HTTP request
type Request struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     string            `json:"body,omitempty"`
	BodyType string            `json:"bodyType,omitempty"`

	// Proxy is the resolved proxy; nil means direct connection
	Proxy *Proxy `json:"proxy,omitempty"`
}

// ExecuteResult is the transport's view of one dispatch
type ExecuteResult struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Body              string              `json:"body,omitempty"`
	BodyBase64        string              `json:"bodyBase64,omitempty"` // Set instead of Body for binary payloads
	BodySize          int64               `json:"bodySize"`
	DurationMs        int64               `json:"durationMs"`
	Error             string              `json:"error,omitempty"`
	ResolvedURL       string              `json:"resolvedUrl,omitempty"`
	ResolvedHeaders   map[string]string   `json:"resolvedHeaders,omitempty"`
}

// Failed reports whether the transport returned an error
func (r *ExecuteResult) Failed() bool {
	return r != nil && r.Error != ""
}

// Is2xx reports whether the status code is in the success range
func (r *ExecuteResult) Is2xx() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Header looks up a response header case-insensitively
func (r *ExecuteResult) Header(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	for k, vs := range r.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0], true
		}
	}
	return "", false
}

// Package transport dispatches rendered requests over net/http.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/devicelab-dev/apiflow/pkg/core"
	"github.com/devicelab-dev/apiflow/pkg/template"
)

// Defaults used when Options leave a field zero.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxBodyBytes = 10 << 20
)

// Options configures the HTTP transport.
type Options struct {
	Timeout            time.Duration
	MaxBodyBytes       int64
	InsecureSkipVerify bool
	FollowRedirects    *bool // nil follows redirects
}

// Transport implements core.Transport. Clients are cached per proxy.
type Transport struct {
	opts Options

	mu      sync.Mutex
	clients map[string]*http.Client
}

// New creates a transport.
func New(opts Options) *Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Transport{
		opts:    opts,
		clients: make(map[string]*http.Client),
	}
}

// client returns the cached client for proxy, creating it on first use.
func (t *Transport) client(proxy *core.Proxy) (*http.Client, error) {
	key := ""
	var proxyURL *url.URL
	if proxy != nil && proxy.URL != "" {
		u, err := proxy.ParsedURL()
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", proxy.URL, err)
		}
		key, proxyURL = u.String(), u
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[key]; ok {
		return c, nil
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = nil
	if proxyURL != nil {
		base.Proxy = http.ProxyURL(proxyURL)
	}
	if t.opts.InsecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test environments
	}
	c := &http.Client{Transport: base, Timeout: t.opts.Timeout}
	if t.opts.FollowRedirects != nil && !*t.opts.FollowRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	t.clients[key] = c
	return c, nil
}

// Dispatch sends req and captures the response. Failures are reported in
// the result's Error field.
func (t *Transport) Dispatch(ctx context.Context, req *core.Request) *core.ExecuteResult {
	start := time.Now()
	result := &core.ExecuteResult{ResolvedURL: req.URL}
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	u, err := url.Parse(req.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result.Error = fmt.Sprintf("invalid url %q", req.URL)
		return result
	}

	body, contentType, err := shapeBody(req.BodyType, req.Body)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		result.Error = fmt.Sprintf("failed to create request: %v", err)
		return result
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "Host") {
			httpReq.Host = v
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	result.ResolvedHeaders = flatten(httpReq.Header)

	client, err := t.client(req.Proxy)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		result.Error = fmt.Sprintf("HTTP request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.opts.MaxBodyBytes+1))
	if err != nil {
		result.Error = fmt.Sprintf("failed to read response: %v", err)
		return result
	}
	if int64(len(data)) > t.opts.MaxBodyBytes {
		result.Error = fmt.Sprintf("response body exceeds %d bytes", t.opts.MaxBodyBytes)
		return result
	}

	result.StatusCode = resp.StatusCode
	result.ResolvedURL = resp.Request.URL.String()
	result.BodySize = int64(len(data))
	if utf8.Valid(data) {
		result.Body = string(data)
	} else {
		result.BodyBase64 = base64.StdEncoding.EncodeToString(data)
	}
	result.Headers = flatten(resp.Header)
	for k, v := range resp.Header {
		if len(v) > 1 {
			if result.MultiValueHeaders == nil {
				result.MultiValueHeaders = make(map[string][]string)
			}
			result.MultiValueHeaders[k] = append([]string(nil), v...)
		}
	}
	return result
}

func flatten(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// shapeBody encodes the body for its type and returns the default
// Content-Type.
func shapeBody(bodyType, body string) (string, string, error) {
	switch strings.ToLower(bodyType) {
	case "", "none":
		return body, "", nil
	case "json":
		return body, "application/json", nil
	case "text":
		return body, "text/plain; charset=utf-8", nil
	case "xml":
		return body, "application/xml", nil
	case "form":
		encoded, err := formBody(body)
		return encoded, "application/x-www-form-urlencoded", err
	case "graphql":
		encoded, err := graphQLBody(body)
		return encoded, "application/json", err
	case "raw":
		return body, "", nil
	}
	return "", "", fmt.Errorf("unknown body type %q", bodyType)
}

// formBody accepts a JSON object or an already encoded form string.
func formBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return "", fmt.Errorf("form body is not a JSON object: %v", err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := fields[k].(type) {
		case []interface{}:
			for _, item := range v {
				values.Add(k, template.Stringify(item))
			}
		default:
			values.Set(k, template.Stringify(v))
		}
	}
	return values.Encode(), nil
}

// graphQLBody wraps a bare query document as {"query": ...}. JSON bodies
// that already carry a query are sent unchanged.
func graphQLBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			if _, ok := doc["query"]; ok {
				return trimmed, nil
			}
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string{"query": body}); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

var _ core.Transport = (*Transport)(nil)

package transport

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/apiflow/pkg/core"
)

type captured struct {
	method      string
	path        string
	contentType string
	host        string
	body        string
}

func echoServer(t *testing.T, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		*got = captured{
			method:      r.Method,
			path:        r.URL.RequestURI(),
			contentType: r.Header.Get("Content-Type"),
			host:        r.Host,
			body:        string(data),
		}
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_JSON(t *testing.T) {
	var got captured
	srv := echoServer(t, &got)

	res := New(Options{}).Dispatch(context.Background(), &core.Request{
		Method:   "post",
		URL:      srv.URL + "/users?x=1",
		Headers:  map[string]string{"X-Trace": "abc"},
		Body:     `{"name":"ada"}`,
		BodyType: "json",
	})

	require.Empty(t, res.Error)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, `{"ok":true}`, res.Body)
	assert.Equal(t, int64(11), res.BodySize)
	assert.Equal(t, "application/json", res.Headers["Content-Type"])
	assert.Equal(t, []string{"a=1", "b=2"}, res.MultiValueHeaders["Set-Cookie"])
	assert.Equal(t, srv.URL+"/users?x=1", res.ResolvedURL)
	assert.Equal(t, "abc", res.ResolvedHeaders["X-Trace"])

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/users?x=1", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, `{"name":"ada"}`, got.body)
}

func TestDispatch_BodyShaping(t *testing.T) {
	tests := []struct {
		name     string
		bodyType string
		body     string
		headers  map[string]string
		wantBody string
		wantType string
	}{
		{"text", "text", "hello", nil, "hello", "text/plain; charset=utf-8"},
		{"xml", "xml", "<a/>", nil, "<a/>", "application/xml"},
		{"form object", "form", `{"b":"2 3","a":["x","y"]}`, nil, "a=x&a=y&b=2+3", "application/x-www-form-urlencoded"},
		{"form encoded", "form", "a=1&b=2", nil, "a=1&b=2", "application/x-www-form-urlencoded"},
		{"graphql document", "graphql", "{ me { id } }", nil, `{"query":"{ me { id } }"}`, "application/json"},
		{"graphql json", "graphql", `{"query":"{ me }","variables":{}}`, nil, `{"query":"{ me }","variables":{}}`, "application/json"},
		{"explicit content type", "json", `{}`, map[string]string{"content-type": "application/vnd.api+json"}, `{}`, "application/vnd.api+json"},
		{"raw", "raw", "bytes", nil, "bytes", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := echoServer(t, &got)
			res := New(Options{}).Dispatch(context.Background(), &core.Request{
				Method: "POST", URL: srv.URL, Headers: tt.headers, Body: tt.body, BodyType: tt.bodyType,
			})
			require.Empty(t, res.Error)
			assert.Equal(t, tt.wantBody, got.body)
			assert.Equal(t, tt.wantType, got.contentType)
		})
	}
}

func TestDispatch_HostHeader(t *testing.T) {
	var got captured
	srv := echoServer(t, &got)
	res := New(Options{}).Dispatch(context.Background(), &core.Request{
		URL: srv.URL, Headers: map[string]string{"Host": "api.internal"},
	})
	require.Empty(t, res.Error)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "api.internal", got.host)
}

func TestDispatch_BinaryBody(t *testing.T) {
	payload := []byte{0xff, 0xfe, 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	res := New(Options{}).Dispatch(context.Background(), &core.Request{URL: srv.URL})
	require.Empty(t, res.Error)
	assert.Empty(t, res.Body)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), res.BodyBase64)
	assert.Equal(t, int64(4), res.BodySize)
}

func TestDispatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  *core.Request
	}{
		{"relative url", &core.Request{URL: "/users"}},
		{"unknown body type", &core.Request{URL: "http://127.0.0.1:1", Body: "x", BodyType: "yaml"}},
		{"bad form body", &core.Request{URL: "http://127.0.0.1:1", Body: "{nope", BodyType: "form"}},
		{"connection refused", &core.Request{URL: "http://127.0.0.1:1"}},
		{"bad proxy", &core.Request{URL: "http://127.0.0.1:1", Proxy: &core.Proxy{URL: "://"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(Options{Timeout: time.Second}).Dispatch(context.Background(), tt.req)
			assert.True(t, res.Failed())
			assert.Zero(t, res.StatusCode)
		})
	}
}

func TestDispatch_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	res := New(Options{MaxBodyBytes: 4}).Dispatch(context.Background(), &core.Request{URL: srv.URL})
	assert.Contains(t, res.Error, "exceeds 4 bytes")
}

func TestDispatch_Redirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := New(Options{}).Dispatch(context.Background(), &core.Request{URL: srv.URL + "/old"})
	require.Empty(t, res.Error)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, srv.URL+"/new", res.ResolvedURL)

	noFollow := false
	res = New(Options{FollowRedirects: &noFollow}).Dispatch(context.Background(), &core.Request{URL: srv.URL + "/old"})
	require.Empty(t, res.Error)
	assert.Equal(t, http.StatusFound, res.StatusCode)
}

func TestDispatch_Proxy(t *testing.T) {
	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.String()
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	tr := New(Options{})
	req := &core.Request{URL: "http://upstream.test/ping", Proxy: &core.Proxy{ID: 1, URL: proxy.URL}}
	res := tr.Dispatch(context.Background(), req)
	require.Empty(t, res.Error)
	assert.Equal(t, "via proxy", res.Body)
	assert.Equal(t, "http://upstream.test/ping", proxied)

	// Same proxy reuses the cached client.
	tr.Dispatch(context.Background(), req)
	u, _ := url.Parse(proxy.URL)
	assert.Len(t, tr.clients, 1)
	assert.Contains(t, tr.clients, u.String())
}

func TestDispatch_Cancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := New(Options{}).Dispatch(ctx, &core.Request{URL: srv.URL})
	assert.True(t, res.Failed())
}

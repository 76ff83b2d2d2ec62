package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_MappingFlow(t *testing.T) {
	yaml := `
id: 7
name: Login
description: Log in and fetch the profile
tags: [smoke]
env:
  baseUrl: https://api.example.com
steps:
  - name: login
    method: post
    url: "{{baseUrl}}/login"
    headers:
      Accept: application/json
    body:
      user: "{{user}}"
    extractVars:
      token: $.token
  - name: profile
    url: "{{baseUrl}}/me"
    loopCount: 3
    proxyId: 0
`
	flow, err := Parse([]byte(yaml), "login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flow.ID != 7 || flow.Name != "Login" {
		t.Errorf("identity = %d/%q, want 7/Login", flow.ID, flow.Name)
	}
	if flow.Env["baseUrl"] != "https://api.example.com" {
		t.Errorf("env baseUrl = %q", flow.Env["baseUrl"])
	}
	if len(flow.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(flow.Steps))
	}

	login := flow.Steps[0]
	if login.HTTPMethod() != "POST" {
		t.Errorf("method = %q, want POST", login.HTTPMethod())
	}
	if login.Body != `{"user":"{{user}}"}` {
		t.Errorf("body = %q", login.Body)
	}
	if login.EffectiveBodyType() != BodyJSON {
		t.Errorf("body type = %q, want json", login.EffectiveBodyType())
	}
	if login.ExtractVars["token"] != "$.token" {
		t.Errorf("extractVars = %v", login.ExtractVars)
	}
	if login.StepOrder != 1 || login.ID != 1 || login.FlowID != 7 {
		t.Errorf("normalized ids = order %d id %d flow %d", login.StepOrder, login.ID, login.FlowID)
	}
	if login.ProxyID != nil {
		t.Errorf("proxyId should be nil when absent, got %v", *login.ProxyID)
	}

	profile := flow.Steps[1]
	if profile.LoopCount != 3 {
		t.Errorf("loopCount = %d, want 3", profile.LoopCount)
	}
	if profile.ProxyID == nil || *profile.ProxyID != 0 {
		t.Errorf("proxyId = %v, want explicit 0", profile.ProxyID)
	}
}

func TestParse_ConfigThenSteps(t *testing.T) {
	yaml := `
name: Two documents
---
- url: https://x/a
- url: https://x/b
  postScript: |
    {"flow": {"action": "stop"}}
`
	flow, err := Parse([]byte(yaml), "two.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Name != "Two documents" {
		t.Errorf("name = %q", flow.Name)
	}
	if len(flow.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(flow.Steps))
	}
	if !strings.Contains(flow.Steps[1].PostScript, `"stop"`) {
		t.Errorf("postScript = %q", flow.Steps[1].PostScript)
	}
	if flow.Steps[0].LoopCount != 1 {
		t.Errorf("loopCount should default to 1, got %d", flow.Steps[0].LoopCount)
	}
}

func TestParse_BareListUsesFileName(t *testing.T) {
	flow, err := Parse([]byte("- url: https://x/{{id}}\n"), "/tmp/health-check.yml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Name != "health-check" {
		t.Errorf("name = %q, want health-check", flow.Name)
	}
}

func TestParse_JSON(t *testing.T) {
	data := `{"name": "json flow", "steps": [{"name": "a", "url": "https://x", "postScript": {"assertions": [{"type": "status", "value": 200}]}}]}`
	flow, err := Parse([]byte(data), "flow.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(flow.Steps[0].PostScript, "{") {
		t.Errorf("postScript should be re-encoded JSON, got %q", flow.Steps[0].PostScript)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", "", "empty flow file"},
		{"no steps", "name: x\n", "no steps"},
		{"steps not list", "steps: 3\n", "steps must be a list"},
		{"scalar step", "- hello\n", "step must be a mapping"},
		{"missing url", "- name: a\n", "has no url"},
		{"negative loop", "- url: https://x\n  loopCount: -1\n", "loopCount"},
		{"scalar document", "42\n", "mapping or a list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "bad.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestParseError_Line(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - name: a\n    url: https://x\n  - name: b\n"), "f.yaml")
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if pe.Line != 4 {
		t.Errorf("line = %d, want 4", pe.Line)
	}
	if !strings.HasPrefix(pe.Error(), "f.yaml:4:") {
		t.Errorf("Error() = %q", pe.Error())
	}
}

func TestParseFile_NotFound(t *testing.T) {
	if _, err := ParseFile("/nonexistent/flow.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("a.yaml", "name: a\ntags: [smoke]\nsteps:\n  - url: https://x\n")
	write("b.yml", "name: b\ntags: [slow]\nsteps:\n  - url: https://x\n")
	write("apiflow.yaml", "store:\n  driver: memory\n")
	write("broken.yaml", "- name: nourl\n")
	write("notes.txt", "ignored")

	flows, err := ParseDirectory(dir, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(flows))
	}

	flows, err = ParseDirectory(dir, []string{"smoke"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 1 || flows[0].Name != "a" {
		t.Errorf("include filter returned %v", flows)
	}
}

func TestShouldIncludeFlow(t *testing.T) {
	flow := &Flow{Tags: []string{"smoke", "auth"}}

	tests := []struct {
		include, exclude []string
		want             bool
	}{
		{nil, nil, true},
		{[]string{"auth"}, nil, true},
		{[]string{"billing"}, nil, false},
		{nil, []string{"smoke"}, false},
		{[]string{"auth"}, []string{"smoke"}, false},
	}

	for _, tt := range tests {
		if got := ShouldIncludeFlow(flow, tt.include, tt.exclude); got != tt.want {
			t.Errorf("ShouldIncludeFlow(%v, %v) = %v, want %v", tt.include, tt.exclude, got, tt.want)
		}
	}
}

package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/apiflow/pkg/flow"
)

func writeFlow(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func errorsContain(errs []error, substr string) bool {
	for _, err := range errs {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}

const validFlow = `
name: Login
tags: [smoke]
steps:
  - name: login
    method: POST
    url: https://api.example.com/login
    body:
      user: ada
    postScript:
      flow:
        type: conditional
        condition: "{{status}} == 'pending'"
        onTrue:
          action: goto
          target: login
  - name: profile
    url: https://api.example.com/me
    condition: "{{token}} != ''"
`

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "login.yaml", validFlow)

	result := New(nil, nil).Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 1 || len(result.Flows) != 1 {
		t.Fatalf("expected 1 flow, got %d files / %d flows", len(result.Files), len(result.Flows))
	}
	if result.Flows[0].Name != "Login" {
		t.Errorf("flow name = %q, want Login", result.Flows[0].Name)
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "b.yaml", validFlow)
	writeFlow(t, dir, "a.yml", "- url: https://api.example.com/a\n")
	writeFlow(t, dir, "nested/c.json", `{"steps": [{"url": "https://api.example.com/c"}]}`)
	writeFlow(t, dir, "apiflow.yaml", "store:\n  driver: memory\n")
	writeFlow(t, dir, "README.md", "# flows\n")

	result := New(nil, nil).Validate(dir)

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Files) != 3 {
		t.Fatalf("expected 3 files, got %v", result.Files)
	}
	if filepath.Base(result.Files[0]) != "a.yml" {
		t.Errorf("expected sorted files, got %v", result.Files)
	}
}

func TestValidate_NonExistentPath(t *testing.T) {
	result := New(nil, nil).Validate(filepath.Join(t.TempDir(), "missing.yaml"))
	if result.IsValid() {
		t.Fatal("expected error for missing path")
	}
	if !errorsContain(result.Errors, "cannot access") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestValidate_ParseError(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "bad.yaml", "steps:\n  - name: [unclosed\n")

	result := New(nil, nil).Validate(file)

	if result.IsValid() {
		t.Fatal("expected parse error")
	}
	if !errorsContain(result.Errors, "parse error") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if len(result.Files) != 0 {
		t.Errorf("unparsable file should not be listed, got %v", result.Files)
	}
}

func TestValidate_NegativeLoopCountIsParseError(t *testing.T) {
	dir := t.TempDir()
	file := writeFlow(t, dir, "loop.yaml", "- name: a\n  url: https://x\n  loopCount: -1\n")

	result := New(nil, nil).Validate(file)

	if !errorsContain(result.Errors, "loopCount must not be negative") {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestValidate_StructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "duplicate stepOrder",
			content: `
- name: a
  url: https://x/a
  stepOrder: 1
- name: b
  url: https://x/b
  stepOrder: 1
`,
			want: "duplicate stepOrder 1",
		},
		{
			name: "duplicate name",
			content: `
- name: a
  url: https://x/a
- name: a
  url: https://x/b
`,
			want: `duplicate step name "a"`,
		},
		{
			name: "malformed condition",
			content: `
- name: a
  url: https://x/a
  condition: "{{a}} == "
`,
			want: "condition:",
		},
		{
			name: "dsl schema violation",
			content: `
- name: a
  url: https://x/a
  postScript:
    flow:
      action: jump
`,
			want: "postScript:",
		},
		{
			name: "invalid dsl json",
			content: `
- name: a
  url: https://x/a
  preScript: '{"flow": '
`,
			want: "preScript: invalid DSL JSON",
		},
		{
			name: "unknown goto target",
			content: `
- name: a
  url: https://x/a
  postScript:
    flow:
      action: goto
      target: nowhere
`,
			want: `goto target "nowhere" does not match any step`,
		},
		{
			name: "goto stepOrder not defined",
			content: `
- name: a
  url: https://x/a
  postScript:
    flow:
      type: switch
      cases:
        - condition: "{{n}} > 1"
          action: goto
          target: 7
`,
			want: `goto target "7"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := writeFlow(t, t.TempDir(), "flow.yaml", tt.content)
			result := New(nil, nil).Validate(file)
			if result.IsValid() {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !errorsContain(result.Errors, tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, result.Errors)
			}
		})
	}
}

func TestValidate_DynamicGotoTargetNotChecked(t *testing.T) {
	content := `
- name: a
  url: https://x/a
  postScript:
    flow:
      action: goto
      target: "{{next}}"
`
	file := writeFlow(t, t.TempDir(), "flow.yaml", content)

	result := New(nil, nil).Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
}

func TestValidate_JavaScriptNotParsed(t *testing.T) {
	content := `
- name: a
  url: https://x/a
  postScript: |
    pm.setNextRequest("nowhere");
`
	file := writeFlow(t, t.TempDir(), "flow.yaml", content)

	result := New(nil, nil).Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
}

func TestValidate_TagFiltering(t *testing.T) {
	dir := t.TempDir()
	writeFlow(t, dir, "smoke.yaml", "tags: [smoke]\nsteps:\n  - url: https://x/1\n")
	writeFlow(t, dir, "slow.yaml", "tags: [slow]\nsteps:\n  - url: https://x/2\n")
	writeFlow(t, dir, "both.yaml", "tags: [smoke, slow]\nsteps:\n  - url: https://x/3\n")

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    int
	}{
		{"no filter", nil, nil, 3},
		{"include smoke", []string{"smoke"}, nil, 2},
		{"exclude slow", nil, []string{"slow"}, 1},
		{"include smoke exclude slow", []string{"smoke"}, []string{"slow"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := New(tt.include, tt.exclude).Validate(dir)
			if !result.IsValid() {
				t.Fatalf("unexpected errors: %v", result.Errors)
			}
			if len(result.Files) != tt.want {
				t.Errorf("expected %d files, got %v", tt.want, result.Files)
			}
		})
	}
}

func TestValidate_EmptyDirectory(t *testing.T) {
	result := New(nil, nil).Validate(t.TempDir())
	if !result.IsValid() {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
	if len(result.Files) != 0 {
		t.Errorf("expected no files, got %v", result.Files)
	}
}

func TestCheckFlow_StoredFlow(t *testing.T) {
	f := &flow.Flow{
		Name: "stored",
		Steps: []flow.Step{
			{Name: "a", URL: "https://x/a", LoopCount: -2},
		},
	}
	errs := CheckFlow(f, "stored")
	if !errorsContain(errs, "loopCount must not be negative") {
		t.Errorf("unexpected errors: %v", errs)
	}

	if errs := CheckFlow(&flow.Flow{Name: "empty"}, "empty"); !errorsContain(errs, "flow has no steps") {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestResult_IsValid(t *testing.T) {
	r := &Result{}
	if !r.IsValid() {
		t.Error("empty result should be valid")
	}
	r.Errors = append(r.Errors, &ValidationError{File: "f", Message: "m"})
	if r.IsValid() {
		t.Error("result with errors should be invalid")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{File: "flow.yaml", Message: "bad"}
	if got := err.Error(); got != "flow.yaml: bad" {
		t.Errorf("Error() = %q", got)
	}
	err.Step = "login"
	if got := err.Error(); got != "flow.yaml: login: bad" {
		t.Errorf("Error() = %q", got)
	}
}

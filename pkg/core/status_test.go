package core

import "testing"

func TestStepStatus_String(t *testing.T) {
	tests := []struct {
		status   StepStatus
		expected string
	}{
		{StatusPending, "pending"},
		{StatusRunning, "running"},
		{StatusPassed, "passed"},
		{StatusFailed, "failed"},
		{StatusSkipped, "skipped"},
		{StepStatus(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("StepStatus(%d).String() = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestStepStatus_MarshalText(t *testing.T) {
	b, err := StatusFailed.MarshalText()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "failed" {
		t.Errorf("MarshalText() = %q, want %q", b, "failed")
	}

	var s StepStatus
	if err := s.UnmarshalText([]byte("skipped")); err != nil || s != StatusSkipped {
		t.Errorf("UnmarshalText(skipped) = %v, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestStepStatus_IsTerminal(t *testing.T) {
	terminalStatuses := []StepStatus{StatusPassed, StatusFailed, StatusSkipped}
	nonTerminalStatuses := []StepStatus{StatusPending, StatusRunning}

	for _, s := range terminalStatuses {
		if !s.IsTerminal() {
			t.Errorf("StepStatus(%s).IsTerminal() = false, want true", s)
		}
	}

	for _, s := range nonTerminalStatuses {
		if s.IsTerminal() {
			t.Errorf("StepStatus(%s).IsTerminal() = true, want false", s)
		}
	}
}

func TestStepStatus_IsSuccess(t *testing.T) {
	successStatuses := []StepStatus{StatusPassed, StatusSkipped}
	failureStatuses := []StepStatus{StatusPending, StatusRunning, StatusFailed}

	for _, s := range successStatuses {
		if !s.IsSuccess() {
			t.Errorf("StepStatus(%s).IsSuccess() = false, want true", s)
		}
	}

	for _, s := range failureStatuses {
		if s.IsSuccess() {
			t.Errorf("StepStatus(%s).IsSuccess() = true, want false", s)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryStep, "step"},
		{ErrCategoryScript, "script"},
		{ErrCategoryCeiling, "ceiling"},
		{ErrCategoryConfig, "config"},
		{ErrCategoryCancelled, "cancelled"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestErrorCategory_IsFatal(t *testing.T) {
	fatal := []ErrorCategory{ErrCategoryCeiling, ErrCategoryConfig, ErrCategoryCancelled}
	recoverable := []ErrorCategory{ErrCategoryNone, ErrCategoryStep, ErrCategoryScript}

	for _, c := range fatal {
		if !c.IsFatal() {
			t.Errorf("%s.IsFatal() = false, want true", c)
		}
	}
	for _, c := range recoverable {
		if c.IsFatal() {
			t.Errorf("%s.IsFatal() = true, want false", c)
		}
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", ScopeRuntime, false},
		{"runtime", ScopeRuntime, false},
		{"env", ScopeEnvironment, false},
		{"environment", ScopeEnvironment, false},
		{"collection", ScopeCollection, false},
		{"globals", ScopeGlobal, false},
		{"session", "", true},
	}

	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseScope(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDirective_Normalize(t *testing.T) {
	if got := (Directive{}).Normalize().Action; got != ActionNext {
		t.Errorf("zero Directive normalizes to %q, want next", got)
	}
	if got := Goto("login").String(); got != "goto(login)" {
		t.Errorf("Goto(login).String() = %q", got)
	}
}

package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryStep,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Category: ErrCategoryStep,
		Code:     "test_error",
		Message:  "test message",
		Cause:    cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Message: "wrapper",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	original := ErrGotoTarget
	cause := errors.New("custom cause")

	newErr := original.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != original.Code {
		t.Errorf("Code = %q, want %q", newErr.Code, original.Code)
	}
	if original.Cause != nil {
		t.Error("WithCause() modified the predefined error")
	}
}

func TestExecutionError_Is(t *testing.T) {
	err := ErrRepeatCeiling.WithMessage("repeat limit of 1000 exceeded at step login")
	wrapped := fmt.Errorf("run failed: %w", err)

	if !errors.Is(wrapped, ErrRepeatCeiling) {
		t.Error("errors.Is should match by code through wrapping")
	}
	if errors.Is(wrapped, ErrGotoCeiling) {
		t.Error("errors.Is should not match a different code")
	}

	var ee *ExecutionError
	if !errors.As(wrapped, &ee) || ee.Category != ErrCategoryCeiling {
		t.Errorf("errors.As category = %v, want ceiling", ee)
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	base := ErrGotoTarget.WithDetails(map[string]interface{}{"target": "a"})
	merged := base.WithDetails(map[string]interface{}{"step": "b"})

	if merged.Details["target"] != "a" || merged.Details["step"] != "b" {
		t.Errorf("Details = %v, want both keys", merged.Details)
	}
	if len(base.Details) != 1 {
		t.Errorf("WithDetails() modified receiver: %v", base.Details)
	}
}

func TestNewExecutionError(t *testing.T) {
	err := NewExecutionError(ErrCategoryConfig, "bad", "bad thing")
	if err.Category != ErrCategoryConfig || err.Code != "bad" || err.Message != "bad thing" {
		t.Errorf("NewExecutionError() = %+v", err)
	}
}

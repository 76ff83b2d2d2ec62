package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: repeat_ceiling, goto_target, ...
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code so wrapped copies still compare equal.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Step errors
	ErrTransport = &ExecutionError{
		Category: ErrCategoryStep,
		Code:     "transport_error",
		Message:  "request dispatch failed",
	}
	ErrAssertionFailed = &ExecutionError{
		Category: ErrCategoryStep,
		Code:     "assertion_failed",
		Message:  "assertion failed",
	}
	ErrHTTPStatus = &ExecutionError{
		Category: ErrCategoryStep,
		Code:     "http_status",
		Message:  "non-2xx response status",
	}

	// Script errors
	ErrInvalidScript = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "invalid_script",
		Message:  "invalid script",
	}
	ErrScriptRuntime = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "script_runtime",
		Message:  "script execution failed",
	}
	ErrScriptTimeout = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "script_timeout",
		Message:  "script exceeded its time limit",
	}
	ErrScriptHTTPQuota = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "script_http_quota",
		Message:  "script exceeded its outbound request quota",
	}
	ErrFatalDirective = &ExecutionError{
		Category: ErrCategoryScript,
		Code:     "fatal_directive",
		Message:  "flow aborted by script",
	}

	// Ceiling errors
	ErrRepeatCeiling = &ExecutionError{
		Category: ErrCategoryCeiling,
		Code:     "repeat_ceiling",
		Message:  "repeat limit exceeded",
	}
	ErrGotoCeiling = &ExecutionError{
		Category: ErrCategoryCeiling,
		Code:     "goto_ceiling",
		Message:  "goto limit exceeded",
	}
	ErrAssertionCeiling = &ExecutionError{
		Category: ErrCategoryCeiling,
		Code:     "assertion_ceiling",
		Message:  "assertion limit exceeded",
	}

	// Config errors
	ErrGotoTarget = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "goto_target",
		Message:  "goto target not found",
	}
	ErrInvalidCondition = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_condition",
		Message:  "malformed condition",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrFlowNotFound = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "flow_not_found",
		Message:  "flow not found",
	}
	ErrReadOnlyVariable = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "read_only_variable",
		Message:  "built-in variables are read-only",
	}

	ErrCancelled = &ExecutionError{
		Category: ErrCategoryCancelled,
		Code:     "cancelled",
		Message:  "execution cancelled",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

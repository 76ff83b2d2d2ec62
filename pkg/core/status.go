package core

import "fmt"

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Transport error, script error or failed assertion
	StatusSkipped                   // Condition not met, request skipped or never reached
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name so results read well as JSON.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *StepStatus) UnmarshalText(text []byte) error {
	for _, st := range []StepStatus{StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusSkipped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown step status %q", text)
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status does not count as a failure
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusSkipped
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone      ErrorCategory = iota // No error
	ErrCategoryStep                           // Recoverable step failure: transport, status, assertion
	ErrCategoryScript                         // Script parse/runtime error or timeout
	ErrCategoryCeiling                        // Repeat/goto ceiling exceeded
	ErrCategoryConfig                         // Unknown goto target, invalid definition
	ErrCategoryCancelled                      // Caller cancelled the run
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryStep:
		return "step"
	case ErrCategoryScript:
		return "script"
	case ErrCategoryCeiling:
		return "ceiling"
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFatal reports whether errors of this category terminate the whole run.
func (c ErrorCategory) IsFatal() bool {
	return c == ErrCategoryCeiling || c == ErrCategoryConfig || c == ErrCategoryCancelled
}

package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Loader error codes
const (
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrLoadError ErrorCode = "LOAD_ERROR"
)

// Dependency error codes
const (
	ErrConflict                ErrorCode = "CONFLICT"
	ErrSecurityPolicyViolation ErrorCode = "SECURITY_POLICY_VIOLATION"
	ErrLockTimeout             ErrorCode = "LOCK_TIMEOUT"
	ErrInstallationFailed      ErrorCode = "INSTALLATION_FAILED"
)

// Workflow error codes
const (
	ErrCycleDetected      ErrorCode = "CYCLE_DETECTED"
	ErrMissingDependency  ErrorCode = "MISSING_DEPENDENCY"
	ErrStepExecution      ErrorCode = "STEP_EXECUTION"
	ErrRollbackIncomplete ErrorCode = "ROLLBACK_INCOMPLETE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

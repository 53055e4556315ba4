package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeTenantMismatch    = "TENANT_MISMATCH"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeActionUnavailable = "ACTION_UNAVAILABLE"
	ErrCodeActionFailed      = "ACTION_FAILED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeStore             = "STORE_ERROR"
)

// DripError is the structured error type returned across the engine.
type DripError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Cause       error          `json:"-"`
}

func (e *DripError) Error() string {
	if e.ExecutionID != "" {
		return fmt.Sprintf("[%s] execution %s: %s", e.Code, e.ExecutionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DripError) Unwrap() error {
	return e.Cause
}

// NewError creates a new DripError.
func NewError(code, message string) *DripError {
	return &DripError{Code: code, Message: message}
}

// NewErrorf creates a new DripError with a formatted message.
func NewErrorf(code, format string, args ...any) *DripError {
	return &DripError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithExecution attaches an execution ID to the error.
func (e *DripError) WithExecution(id string) *DripError {
	e.ExecutionID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *DripError) WithCause(err error) *DripError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *DripError) WithDetails(details map[string]any) *DripError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsCode reports whether err (or anything it wraps) is a DripError with the given code.
func IsCode(err error, code string) bool {
	var de *DripError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NOT_FOUND DripError.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsConflict reports whether err is a CONFLICT DripError.
func IsConflict(err error) bool {
	return IsCode(err, ErrCodeConflict)
}

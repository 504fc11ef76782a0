package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeAssertionFailed   = "ASSERTION_FAILED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeLoad              = "LOAD_ERROR"
)

// MaestroError is the structured error type used across maestro packages.
type MaestroError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *MaestroError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *MaestroError) Unwrap() error {
	return e.Cause
}

// NewError creates a new MaestroError.
func NewError(code, message string) *MaestroError {
	return &MaestroError{Code: code, Message: message}
}

// NewErrorf creates a new MaestroError with a formatted message.
func NewErrorf(code, format string, args ...any) *MaestroError {
	return &MaestroError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step label to the error.
func (e *MaestroError) WithStep(step string) *MaestroError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *MaestroError) WithCause(err error) *MaestroError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *MaestroError) WithDetails(details map[string]any) *MaestroError {
	e.Details = details
	return e
}

// IsCode reports whether err is, or wraps, a MaestroError with the given code.
func IsCode(err error, code string) bool {
	var me *MaestroError
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}

package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeResolution     = "RESOLUTION_ERROR"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeTransient      = "TRANSIENT_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeConnection     = "CONNECTION_ERROR"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
)

// FlowError is the structured error type for all flowrun operations.
type FlowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	StepName string         `json:"step_name,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *FlowError) WithStep(stepName string) *FlowError {
	e.StepName = stepName
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether the error code classifies as a transient failure.
// Validation and resolution failures are deterministic and never retried.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeResolution, ErrCodeNotFound, ErrCodeConflict, ErrCodeCancelled:
		return false
	default:
		return true
	}
}

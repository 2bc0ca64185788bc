package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation  ErrorCategory = "validation"  // Invalid input
	ErrCatAuth        ErrorCategory = "auth"        // Authentication failure
	ErrCatTimeout     ErrorCategory = "timeout"     // Operation timed out
	ErrCatUnavailable ErrorCategory = "unavailable" // External service unreachable
	ErrCatAnalysis    ErrorCategory = "analysis"    // Analysis could not complete
	ErrCatRateLimit   ErrorCategory = "rate_limit"  // Caller rate limited
	ErrCatState       ErrorCategory = "state"       // Lifecycle violation
	ErrCatNotFound    ErrorCategory = "not_found"   // Resource not found
	ErrCatInternal    ErrorCategory = "internal"    // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAuth,
		Code:      "AUTH_FAILED",
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrServiceUnavailable indicates the external analysis service is unreachable.
func ErrServiceUnavailable(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   message,
		Retryable: true,
	}
}

// ErrLayer indicates a single analysis layer failed. It carries the layer
// name and the upstream message for triage.
func ErrLayer(layer Layer, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAnalysis,
		Code:      CodeLayerFailed,
		Message:   fmt.Sprintf("layer %s: %s", layer, message),
		Retryable: true,
		Details: map[string]interface{}{
			"layer": string(layer),
		},
	}
}

// ErrAnalysisFailed indicates too few layers succeeded to produce a verdict.
func ErrAnalysisFailed(sessionID, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatAnalysis,
		Code:      CodeAnalysisFailed,
		Message:   message,
		Retryable: false,
		Details: map[string]interface{}{
			"session_id": sessionID,
		},
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrState creates a lifecycle/state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatState,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// ValidationMessages extracts the field-level messages attached to a
// validation error, if any.
func ValidationMessages(err error) []string {
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Details == nil {
		return nil
	}
	raw, ok := domErr.Details["validation_errors"]
	if !ok {
		return nil
	}
	msgs, ok := raw.([]string)
	if !ok {
		return nil
	}
	return msgs
}

// Predefined error codes
const (
	CodeInvalidSession = "INVALID_SESSION"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeLayerFailed    = "LAYER_FAILED"
	CodeAnalysisFailed = "ANALYSIS_FAILED"
	CodeNotInitialized = "NOT_INITIALIZED"
	CodeDisposed       = "DISPOSED"
	CodeCircuitOpen    = "CIRCUIT_OPEN"
	CodeInsufficient   = "INSUFFICIENT_DATA"
)

// ErrNotInitialized indicates an operation was called before Initialize.
func ErrNotInitialized() *DomainError {
	return ErrState(CodeNotInitialized, "engine not initialized")
}

// ErrDisposed indicates an operation was called after Close.
func ErrDisposed() *DomainError {
	return ErrState(CodeDisposed, "engine disposed")
}

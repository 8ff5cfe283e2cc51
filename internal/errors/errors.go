package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrTypeSchemaResolution means the target database could not be resolved
	// from the schema text. Fatal: retrying SQL generation cannot fix it.
	ErrTypeSchemaResolution ErrorType = "schema_resolution"
	// ErrTypeOracle covers completion-service failures (quota, network,
	// malformed response). These abort the run without consuming a retry slot.
	ErrTypeOracle ErrorType = "oracle"
	// ErrTypeExecution covers query-engine failures. Retryable: drives the
	// repair loop.
	ErrTypeExecution ErrorType = "execution"
	// ErrTypeExecutionTimeout means the wall-clock budget elapsed while the
	// query was still running. Carries the pending execution id.
	ErrTypeExecutionTimeout ErrorType = "execution_timeout"
	ErrTypeCache            ErrorType = "cache"
	ErrTypeRetrieval        ErrorType = "retrieval"
	ErrTypeSanitize         ErrorType = "sanitize"
	ErrTypeValidation       ErrorType = "validation"
	ErrTypeConfig           ErrorType = "config"
	ErrTypeStorage          ErrorType = "storage"
	ErrTypeInternal         ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string

	// ExecutionID links the error to a query-engine execution when one was
	// started before the failure (or is still pending on timeout).
	ExecutionID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithExecutionID attaches the query-engine execution id to the error
func (e *Error) WithExecutionID(id string) *Error {
	e.ExecutionID = id
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type == errType
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// ExecutionIDOf returns the execution id carried by a structured error, if any
func ExecutionIDOf(err error) string {
	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.ExecutionID
	}

	return ""
}

// IsRetryable reports whether the error should drive the repair loop.
// Only execution failures are retryable; schema-resolution and oracle errors
// short-circuit, and timeouts surface the pending execution instead.
func IsRetryable(err error) bool {
	return IsType(err, ErrTypeExecution)
}

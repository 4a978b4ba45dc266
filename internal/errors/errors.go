package errors

import (
	"fmt"
)

// BoeError is the structured error type for the pipeline.
// It provides context for error handling, logging, and stage-failure
// records in sync_state.
type BoeError struct {
	// Code is the unique error code (e.g., "ERR_303_HTTP_STATUS").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Network, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates whether the operation may be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *BoeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *BoeError) Unwrap() error {
	return e.Cause
}

// Is matches BoeErrors by code, enabling errors.Is comparisons against
// sentinel values.
func (e *BoeError) Is(target error) bool {
	if t, ok := target.(*BoeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *BoeError) WithDetail(key, value string) *BoeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a BoeError with the given code and message.
// Category, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *BoeError {
	return &BoeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a BoeError from an existing error, keeping its message.
func Wrap(code string, err error) *BoeError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf creates a BoeError with a formatted message.
func Newf(code string, format string, args ...any) *BoeError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *BoeError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a document-store error.
func StoreError(message string, cause error) *BoeError {
	return New(ErrCodeStoreQuery, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *BoeError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *BoeError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether an error may be retried. True only for
// BoeErrors carrying the Retryable flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*BoeError); ok {
		return be.Retryable
	}
	return false
}

// GetCode extracts the error code, or "" for foreign errors.
func GetCode(err error) string {
	if be, ok := err.(*BoeError); ok {
		return be.Code
	}
	return ""
}

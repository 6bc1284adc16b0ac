package errors

import (
	"fmt"
)

// Error is the structured error type for clementine.
// It carries a stable code, classification, and retry hint so that the
// sync coordinator can decide between backoff, abandonment, and no-op.
type Error struct {
	// Code is the unique error code (e.g., "ERR_501_CONFLICT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Embedding, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with *Error sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf creates a new Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Sentinel errors for errors.Is matching. Callers compare against these
// rather than inspecting code strings.
var (
	// ErrConflict indicates a duplicate generation insert or a lost
	// activation race: another run already handled this source.
	ErrConflict = New(CodeConflict, "generation already exists", nil)

	// ErrStaleFingerprint indicates the source changed while a generation
	// was being built; the generation must not be activated.
	ErrStaleFingerprint = New(CodeStaleFingerprint, "source fingerprint changed during sync", nil)

	// ErrNoStandby indicates activation was requested but no standby
	// generation exists for the source.
	ErrNoStandby = New(CodeNoStandby, "no standby generation to activate", nil)

	// ErrEmptyContent indicates chunking produced zero segments.
	ErrEmptyContent = New(CodeEmptyContent, "document produced no indexable segments", nil)

	// ErrEmbeddingUnavailable indicates a transient embedding service failure.
	ErrEmbeddingUnavailable = New(CodeEmbeddingUnavailable, "embedding service unavailable", nil)

	// ErrEmbeddingRejected indicates the embedding service permanently
	// rejected the content.
	ErrEmbeddingRejected = New(CodeEmbeddingRejected, "embedding request rejected", nil)
)

// IsRetryable checks if an error is retryable.
// Returns true if the error is an *Error with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code from an *Error.
// Returns empty string for other error types.
func GetCode(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from an *Error.
// Returns empty string for other error types.
func GetCategory(err error) Category {
	if e, ok := err.(*Error); ok {
		return e.Category
	}
	return ""
}

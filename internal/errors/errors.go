// Package errors provides the error taxonomy shared by the cache, mutation and
// export layers. It decides which failures are worth retrying.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError represents a transport failure before a response was received.
// Network errors are retryable.
type NetworkError struct {
	Op    string
	cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("network error during %s: %v", e.Op, e.cause)
	}
	return fmt.Sprintf("network error during %s", e.Op)
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *NetworkError) Unwrap() error {
	return e.cause
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, cause error) error {
	return &NetworkError{Op: op, cause: cause}
}

// ServerError represents an unexpected HTTP status from the backend.
// Only 5xx and 429 responses are retried.
type ServerError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server error %d", e.StatusCode)
}

// Retryable reports whether the status code is transient.
func (e *ServerError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// NewServerError creates a new server error for the given status code.
func NewServerError(statusCode int, message string) error {
	return &ServerError{StatusCode: statusCode, Message: message}
}

// NotFoundError is terminal and never retried.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError is raised before any network call is made, or when the
// backend rejects a request as malformed. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// ExportError is reported per export job. In a bulk batch it is recorded and
// the batch moves on to the next record.
type ExportError struct {
	RecordID string
	Format   string
	cause    error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export of %s as %s failed: %v", e.RecordID, e.Format, e.cause)
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *ExportError) Unwrap() error {
	return e.cause
}

// NewExportError wraps the failure of a single export job.
func NewExportError(recordID, format string, cause error) error {
	return &ExportError{RecordID: recordID, Format: format, cause: cause}
}

// IsRetryable reports whether a fetch that failed with err may be attempted again.
// Errors outside the taxonomy are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Retryable()
	}

	return false
}

// IsNotFound checks if an error is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation checks if an error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExport checks if an error is an ExportError.
func IsExport(err error) bool {
	var ee *ExportError
	return errors.As(err, &ee)
}

// Sentinel errors for lifecycle conditions.
var (
	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("component closed")

	// ErrAlreadyRunning is returned by Start on a running worker.
	ErrAlreadyRunning = errors.New("worker already running")

	// ErrNotRunning is returned by Stop on a stopped worker.
	ErrNotRunning = errors.New("worker not running")
)

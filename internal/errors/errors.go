package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ScopeNotFound indicates no project scope owns a document
	ScopeNotFound ErrorCode = "SCOPE_NOT_FOUND"
	// ImporterUnavailable indicates no enabled importer claims a project root
	ImporterUnavailable ErrorCode = "IMPORTER_UNAVAILABLE"
	// ClasspathIncomplete indicates an importer vetoed a structurally present classpath
	ClasspathIncomplete ErrorCode = "CLASSPATH_INCOMPLETE"
	// ResolutionFailed indicates the build tool invocation failed
	ResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	// CompilationFailed indicates the compiler backend returned an error
	CompilationFailed ErrorCode = "COMPILATION_FAILED"
	// ResourceExhausted indicates a compile ran out of memory or hit a runtime fault
	ResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	// PoolShutdown indicates a task was submitted after shutdown
	PoolShutdown ErrorCode = "POOL_SHUTDOWN"
	// QueueFull indicates a pool queue had no free slot
	QueueFull ErrorCode = "QUEUE_FULL"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// GlsError represents a coded error with message and optional cause
type GlsError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// NewGlsError creates a new GlsError
func NewGlsError(code ErrorCode, message string, cause error) *GlsError {
	return &GlsError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *GlsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GlsError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *GlsError) WithDetails(details interface{}) *GlsError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first GlsError in err's chain.
// Returns InternalError for non-nil errors without a code and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var gerr *GlsError
	if stderrors.As(err, &gerr) {
		return gerr.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

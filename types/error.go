package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the federation subsystem.
type ErrorCode string

const (
	// ErrValidation indicates malformed input, such as a cluster
	// registration missing its id or endpoint.
	ErrValidation ErrorCode = "VALIDATION"
	// ErrNotFound indicates an operation on an agent id the proxy never
	// tracked.
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrCapacityExhausted indicates that neither the local runtime nor any
	// registered cluster can accept the workload.
	ErrCapacityExhausted ErrorCode = "CAPACITY_EXHAUSTED"
	// ErrTransientRemote indicates a communication failure reaching a remote
	// cluster. Always retryable against another candidate.
	ErrTransientRemote ErrorCode = "TRANSIENT_REMOTE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	ClusterID string    `json:"cluster_id,omitempty"`
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
	return &Error{Code: code, Message: message, Retryable: code == ErrTransientRemote}
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

// WithCluster tags the error with the cluster it originated from.
func (e *Error) WithCluster(clusterID string) *Error {
	e.ClusterID = clusterID
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

// IsValidation reports whether err carries the VALIDATION code.
func IsValidation(err error) bool { return GetErrorCode(err) == ErrValidation }

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrNotFound }

// IsCapacityExhausted reports whether err carries the CAPACITY_EXHAUSTED code.
func IsCapacityExhausted(err error) bool { return GetErrorCode(err) == ErrCapacityExhausted }

// IsTransientRemote reports whether err carries the TRANSIENT_REMOTE code.
func IsTransientRemote(err error) bool { return GetErrorCode(err) == ErrTransientRemote }

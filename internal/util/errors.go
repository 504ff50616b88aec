// Package util provides utility functions and types shared across the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., UpstreamError). Each type implements
//     Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// Domain packages wrap these sentinels into their own errors so that
// StatusCode can map any failure to the response status without the
// handler enumerating every error.
package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors. Each maps to exactly one HTTP status code,
// which is how every failure surfaces to the caller.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrTimeout         = errors.New("timeout")
	ErrUpstreamUnavail = errors.New("upstream unavailable")
)

// StatusCode maps a gateway error to its HTTP status code.
// Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnavail):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UpstreamError represents an upstream connectivity error.
type UpstreamError struct {
	Upstream string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s error: %s: %v", e.Upstream, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Upstream, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrUpstreamUnavail {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError. The cause may be nil.
func NewUpstreamError(upstream, message string, cause error) *UpstreamError {
	return &UpstreamError{Upstream: upstream, Message: message, Cause: cause}
}

// TimeoutError represents a timeout while talking to the upstream.
type TimeoutError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("timeout during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("timeout during %s", e.Operation)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError. The cause may be nil.
func NewTimeoutError(operation string, cause error) *TimeoutError {
	return &TimeoutError{Operation: operation, Cause: cause}
}

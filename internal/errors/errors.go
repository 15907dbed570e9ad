package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure for propagation decisions.
type ErrorCode string

const (
	ErrValidation  ErrorCode = "VALIDATION"  // 400
	ErrNotFound    ErrorCode = "NOT_FOUND"   // 404
	ErrPersistence ErrorCode = "PERSISTENCE" // 500
	ErrInternal    ErrorCode = "INTERNAL"    // 500
	ErrUpstream    ErrorCode = "UPSTREAM"    // 502, degraded by callers
	ErrCapacity    ErrorCode = "CAPACITY"    // 503, degraded by callers
	ErrCache       ErrorCode = "CACHE"       // never surfaced
)

// CombotError is a structured error with code, HTTP status, and details.
type CombotError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *CombotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *CombotError) Unwrap() error {
	return e.Err
}

// NewValidation creates a 400 error for bad or missing input.
func NewValidation(field, msg string) *CombotError {
	return &CombotError{
		Code:    ErrValidation,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(what string, id any) *CombotError {
	return &CombotError{
		Code:    ErrNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s not found: %v", what, id),
		Details: map[string]any{"id": id},
	}
}

// NewPersistence creates a 500 error for a failed database write.
func NewPersistence(op string, err error) *CombotError {
	return &CombotError{
		Code:    ErrPersistence,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("failed to %s conversation", op),
		Details: map[string]any{"operation": op},
		Err:     err,
	}
}

// NewUpstream creates a 502 error for a failed model or generation call.
func NewUpstream(service string, err error) *CombotError {
	return &CombotError{
		Code:    ErrUpstream,
		Status:  http.StatusBadGateway,
		Message: fmt.Sprintf("%s call failed", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// NewCapacity creates a 503 error for load shedding.
func NewCapacity(resource string) *CombotError {
	return &CombotError{
		Code:    ErrCapacity,
		Status:  http.StatusServiceUnavailable,
		Message: fmt.Sprintf("%s unavailable", resource),
		Details: map[string]any{"resource": resource},
	}
}

// NewCache wraps a cache failure. Callers log and swallow these.
func NewCache(op string, err error) *CombotError {
	return &CombotError{
		Code:    ErrCache,
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("cache %s failed", op),
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CombotError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CombotError{
		Code:    ErrInternal,
		Status:  http.StatusInternalServerError,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err (or anything it wraps) is a CombotError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CombotError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As returns err as a CombotError, wrapping unknown errors as INTERNAL.
func As(err error) *CombotError {
	var cErr *CombotError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return NewInternal(err)
}

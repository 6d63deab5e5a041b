// Package errors provides the unified error taxonomy for the SAGA core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// ErrCodeValidation marks client input rejected at ingress, never inside the SAGA.
	ErrCodeValidation ErrorCode = "CF_VALIDATION"
	// ErrCodeConflict marks a concurrent or duplicate logical operation.
	ErrCodeConflict ErrorCode = "CF_CONFLICT"
	// ErrCodeVersionMismatch marks a failed compare_and_set.
	ErrCodeVersionMismatch ErrorCode = "CF_VERSION_MISMATCH"
	// ErrCodeGuardFailed marks a failed guarded add (e.g. insufficient stock).
	ErrCodeGuardFailed ErrorCode = "CF_GUARD_FAILED"
	// ErrCodeInsufficientStock marks a reservation that could not be satisfied.
	ErrCodeInsufficientStock ErrorCode = "CF_INSUFFICIENT_STOCK"
	// ErrCodePaymentDeclined marks a payment provider decline.
	ErrCodePaymentDeclined ErrorCode = "CF_PAYMENT_DECLINED"
	// ErrCodeCircuitOpen marks a rejected call because the breaker is open.
	ErrCodeCircuitOpen ErrorCode = "CF_CIRCUIT_OPEN"
	// ErrCodeUnavailable marks a transient infrastructure failure.
	ErrCodeUnavailable ErrorCode = "CF_UNAVAILABLE"
	// ErrCodeTimeout marks an operation that exceeded its deadline.
	ErrCodeTimeout ErrorCode = "CF_TIMEOUT"
	// ErrCodeInProgressConflict marks a live idempotency record the caller must back off on.
	ErrCodeInProgressConflict ErrorCode = "CF_IN_PROGRESS_CONFLICT"
	// ErrCodeInternal marks an invariant violation — never silently retried.
	ErrCodeInternal ErrorCode = "CF_INTERNAL"
	// ErrCodeNotFound marks a missing record.
	ErrCodeNotFound ErrorCode = "CF_NOT_FOUND"
)

// ServiceError is a structured error with a code, message, HTTP status hint,
// free-form details, and an optional wrapped cause.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error and returns it for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Validation marks client input rejected at ingress.
func Validation(field, reason string) *ServiceError {
	return New(ErrCodeValidation, "invalid order submission", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

// Conflict / version errors.

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func VersionMismatch(key string) *ServiceError {
	return New(ErrCodeVersionMismatch, "compare_and_set version mismatch", http.StatusConflict).
		WithDetails("key", key)
}

func GuardFailed(key string, delta int64) *ServiceError {
	return New(ErrCodeGuardFailed, "guarded add would violate invariant", http.StatusConflict).
		WithDetails("key", key).
		WithDetails("delta", delta)
}

// Business errors.

func InsufficientStock(productID string, requested, available int64) *ServiceError {
	return New(ErrCodeInsufficientStock, "insufficient stock", http.StatusConflict).
		WithDetails("product_id", productID).
		WithDetails("requested", requested).
		WithDetails("available", available)
}

func PaymentDeclined(reason string) *ServiceError {
	return New(ErrCodePaymentDeclined, "payment declined", http.StatusPaymentRequired).
		WithDetails("reason", reason)
}

func CircuitOpen(dependency string, retryAfterSeconds float64) *ServiceError {
	return New(ErrCodeCircuitOpen, "circuit breaker is open", http.StatusServiceUnavailable).
		WithDetails("dependency", dependency).
		WithDetails("retry_after_seconds", retryAfterSeconds)
}

// Infrastructure errors.

func Unavailable(operation string, err error) *ServiceError {
	return Wrap(ErrCodeUnavailable, "infrastructure operation unavailable", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func InProgressConflict(key string, retryAfter string) *ServiceError {
	return New(ErrCodeInProgressConflict, "operation already in progress", http.StatusConflict).
		WithDetails("key", key).
		WithDetails("retry_after", retryAfter)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Helper functions.

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// CodeOf returns the ErrorCode of err, or "" if it is not a ServiceError.
func CodeOf(err error) ErrorCode {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.Code
	}
	return ""
}

// retryableCodes are the error codes the idempotency ledger and the SAGA's
// per-step retry policy treat as transient by default (spec §4.2, §7).
var retryableCodes = map[ErrorCode]bool{
	ErrCodeUnavailable: true,
	ErrCodeTimeout:     true,
}

// IsRetryable classifies err per spec §4.2/§7: infrastructure errors are
// retryable by default, business-rule violations are not. Unclassified
// errors (not a *ServiceError) are treated as infrastructure noise and are
// retryable; callers needing a different classification for one specific
// code (e.g. a policy that excludes CIRCUIT_OPEN from its own retries)
// check CodeOf directly instead of calling this.
func IsRetryable(err error) bool {
	code := CodeOf(err)
	if code == "" {
		return true
	}
	return retryableCodes[code]
}

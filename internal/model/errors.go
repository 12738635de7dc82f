package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the cart error taxonomy.
// Use errors.Is() to check against these.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUpstream           = errors.New("network or server failure")
	ErrMalformedLocalData = errors.New("malformed local cart data")
	ErrLineItemNotFound   = errors.New("line item not found")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("rate limited")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewUnauthenticatedError is returned when an operation needs a credential and none is stored.
func NewUnauthenticatedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHENTICATED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthenticated,
	}
}

// NewUpstreamError wraps a transport failure or a server-side error from the cart API.
func NewUpstreamError(op string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", op),
		StatusCode: http.StatusBadGateway,
		Err:        fmt.Errorf("%w: %v", ErrUpstream, err),
	}
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewLineItemNotFoundError is returned by mutations that target a product not in the cart.
func NewLineItemNotFoundError(id ProductID) *APIError {
	return &APIError{
		Code:       "LINE_ITEM_NOT_FOUND",
		Message:    fmt.Sprintf("product %s is not in the cart", id),
		StatusCode: http.StatusNotFound,
		Err:        ErrLineItemNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewMalformedLocalDataError reports a persisted cart that failed to decode.
// It is logged and counted, never shown to the user.
func NewMalformedLocalDataError(key string, err error) *APIError {
	return &APIError{
		Code:       "MALFORMED_LOCAL_DATA",
		Message:    fmt.Sprintf("stored cart %s could not be decoded", key),
		StatusCode: http.StatusInternalServerError,
		Err:        fmt.Errorf("%w: %v", ErrMalformedLocalData, err),
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(op string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", op),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsRemoteFailure reports whether err is a NetworkOrServerFailure.
// Rate limiting counts as one; callers treat both as "remote unavailable".
func IsRemoteFailure(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrRateLimited)
}

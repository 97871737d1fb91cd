// Package errors defines the typed error taxonomy used across the
// submission service and its HTTP mapping (spec §7).
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Type classifies an AppError for HTTP mapping and retry guidance.
type Type string

const (
	TypeValidation Type = "validation"
	TypeRateLimited Type = "rate_limited"
	TypeTimedOut   Type = "timed_out"
	TypeConflict   Type = "conflict"
	TypeUnavailable Type = "unavailable"
	TypeInternal   Type = "internal"
)

var statusByType = map[Type]int{
	TypeValidation:  http.StatusBadRequest,
	TypeRateLimited: http.StatusTooManyRequests,
	TypeTimedOut:    http.StatusGatewayTimeout,
	TypeConflict:    http.StatusConflict,
	TypeUnavailable: http.StatusServiceUnavailable,
	TypeInternal:    http.StatusInternalServerError,
}

// RateLimitHeaders carries the rate-limit observability values a Denied
// decision produced, so the HTTP layer can write all three X-RateLimit-*
// headers (and Retry-After) from the error alone, without re-deriving them.
type RateLimitHeaders struct {
	Limit      int64
	Remaining  int64
	ResetAt    int64 // epoch seconds
	RetryAfter int64 // seconds; only meaningful when the request was denied
}

// AppError is the single error shape that crosses component boundaries.
// ErrorID is a correlation identifier safe to echo to the caller; Cause
// never is.
type AppError struct {
	Type       Type
	Message    string
	Details    string
	StatusCode int
	ErrorID    string
	Cause      error
	RateLimit  *RateLimitHeaders
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New creates an AppError of the given type, minting a fresh correlation id.
func New(t Type, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusByType[t],
		ErrorID:    uuid.NewString(),
	}
}

// Wrap creates an AppError of the given type around cause.
func Wrap(cause error, t Type, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, t Type, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches a non-sensitive detail string and returns the
// receiver for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with formatting.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithRateLimitHeaders attaches the rate-limit header values and returns
// the receiver for chaining.
func (e *AppError) WithRateLimitHeaders(h RateLimitHeaders) *AppError {
	e.RateLimit = &h
	return e
}

// IsType reports whether err is an *AppError of type t.
func IsType(err error, t Type) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

func NewValidationError(message string) *AppError { return New(TypeValidation, message) }

func NewRateLimited(retryAfterSeconds int64) *AppError {
	return New(TypeRateLimited, "rate limit exceeded").
		WithDetailsf("retry_after_seconds=%d", retryAfterSeconds)
}

func NewTimedOut(operation string) *AppError {
	return New(TypeTimedOut, "operation timed out").WithDetails(operation)
}

func NewConflict(message string) *AppError { return New(TypeConflict, message) }

func NewUnavailable(cause error, component string) *AppError {
	return Wrapf(cause, TypeUnavailable, "%s unavailable", component)
}

func NewInternal(cause error, message string) *AppError {
	return Wrap(cause, TypeInternal, message)
}

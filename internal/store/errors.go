package store

import (
	"errors"
	"fmt"
)

// Error is a failure surfaced by the metadata store.
//
// Callers may treat ErrCodeBackendUnavailable as retryable at their
// discretion; the store itself never retries a failed statement. All
// other codes are non-retryable without a state change.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Service names the affected service, when known.
	Service string

	cause error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeBackendUnavailable indicates a connection, timeout or
	// driver failure. The original cause is preserved via Unwrap.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// ErrCodeNoNodeAvailable indicates no eligible node exists for an
	// allocation request.
	ErrCodeNoNodeAvailable ErrorCode = "NO_NODE_AVAILABLE"

	// ErrCodeUnknownService indicates a service-id resolution miss.
	ErrCodeUnknownService ErrorCode = "UNKNOWN_SERVICE"

	// ErrCodeClientStateReused indicates an attempt to rotate to a
	// client-state value already present in the anti-reuse window.
	ErrCodeClientStateReused ErrorCode = "CLIENT_STATE_REUSED"

	// ErrCodeUnsupportedField indicates a node update naming a field
	// outside the writable whitelist.
	ErrCodeUnsupportedField ErrorCode = "UNSUPPORTED_FIELD"

	// ErrCodeDuplicateService indicates registration of a service name
	// that already exists.
	ErrCodeDuplicateService ErrorCode = "DUPLICATE_SERVICE"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s (service=%s)", e.Code, e.Message, e.Service)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the low-level cause, if any, for logging.
func (e *Error) Unwrap() error {
	return e.cause
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsBackendUnavailable reports whether err is a backend failure.
func IsBackendUnavailable(err error) bool {
	return hasCode(err, ErrCodeBackendUnavailable)
}

// IsNoNodeAvailable reports whether err means allocation found no
// eligible node.
func IsNoNodeAvailable(err error) bool {
	return hasCode(err, ErrCodeNoNodeAvailable)
}

// IsUnknownService reports whether err is a service-id resolution miss.
func IsUnknownService(err error) bool {
	return hasCode(err, ErrCodeUnknownService)
}

// IsClientStateReused reports whether err is an anti-reuse violation.
func IsClientStateReused(err error) bool {
	return hasCode(err, ErrCodeClientStateReused)
}

// IsUnsupportedField reports whether err is a node-update whitelist
// violation.
func IsUnsupportedField(err error) bool {
	return hasCode(err, ErrCodeUnsupportedField)
}

// IsDuplicateService reports whether err is a duplicate service
// registration.
func IsDuplicateService(err error) bool {
	return hasCode(err, ErrCodeDuplicateService)
}

func backendError(op string, cause error) *Error {
	return &Error{
		Code:    ErrCodeBackendUnavailable,
		Message: op,
		cause:   cause,
	}
}

func noNodeError(service string) *Error {
	return &Error{
		Code:    ErrCodeNoNodeAvailable,
		Message: "no eligible node for allocation",
		Service: service,
	}
}

func unknownServiceError(service string) *Error {
	return &Error{
		Code:    ErrCodeUnknownService,
		Message: "unknown service",
		Service: service,
	}
}

func clientStateReusedError(service string) *Error {
	return &Error{
		Code:    ErrCodeClientStateReused,
		Message: "previously seen client-state value",
		Service: service,
	}
}

func unsupportedFieldError(field string) *Error {
	return &Error{
		Code:    ErrCodeUnsupportedField,
		Message: fmt.Sprintf("field %q is not writable", field),
	}
}

func duplicateServiceError(service string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateService,
		Message: "service already registered",
		Service: service,
	}
}

package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable error taxonomy surfaced to clients and background jobs.
type Kind string

const (
	KindUnauthorized     Kind = "Unauthorized"
	KindForbidden        Kind = "Forbidden"
	KindConsentMissing   Kind = "ConsentMissing"
	KindValidation       Kind = "Validation"
	KindConflict         Kind = "Conflict"
	KindStateInvalid     Kind = "StateInvalid"
	KindNotFound         Kind = "NotFound"
	KindGone             Kind = "Gone"
	KindTransient        Kind = "Transient"
	KindChainUnavailable Kind = "ChainUnavailable"
	KindChainBroken      Kind = "ChainBroken"
)

// Error carries a taxonomy kind alongside a human message. Handlers map kinds
// to HTTP statuses in exactly one place.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a taxonomy error.
func E(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Ef builds a taxonomy error with formatting.
func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the taxonomy kind, defaulting to Transient for unknown
// errors (retryable by background jobs, 500 at the HTTP edge).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// HTTPStatus maps a taxonomy kind to its wire status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindConsentMissing:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindStateInvalid:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindGone:
		return http.StatusGone
	case KindChainUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package errs defines the error taxonomy shared by the messaging core.
// Callers branch on the kind, not the message text.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = iota + 1
	// KindNotFound marks a reference to an absent message or user. Never retried.
	KindNotFound
	// KindConflict marks an illegal state transition attempt. Distinct from
	// the idempotent no-op case, which is not an error at all.
	KindConflict
	// KindTransient marks a storage hiccup that is safe to retry with backoff.
	KindTransient
	// KindAuthorization marks a caller acting on an entity it does not own.
	KindAuthorization
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Authorizationf builds an authorization error.
func Authorizationf(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps a storage error that callers may retry.
func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// KindOf extracts the kind, or zero for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool      { return KindOf(err) == KindConflict }
func IsTransient(err error) bool     { return KindOf(err) == KindTransient }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }

// HTTPStatus maps an error kind onto a transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures so transport layers and the pipeline can act
// on the class without string-matching messages.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_failed"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindUnavailable ErrorKind = "unavailable"
	KindCancelled   ErrorKind = "cancelled"
	KindInternal    ErrorKind = "internal"
)

// Error is a kinded error. Msg is safe to return to clients; Err carries the
// underlying cause for logs only.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a kinded error with a client-safe message
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef creates a kinded error with a formatted client-safe message
func Ef(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind and client-safe message to an underlying cause
func WrapErr(kind ErrorKind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf resolves the kind of any error. Context cancellation maps to
// KindCancelled, deadline expiry to KindUnavailable, everything unclassified
// to KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnavailable
	}
	return KindInternal
}

// IsKind reports whether err resolves to the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ClientMessage returns the message safe to surface to API clients.
// Internal errors collapse to a generic message so infrastructure details
// never leak through responses.
func ClientMessage(err error) string {
	var kinded *Error
	if errors.As(err, &kinded) && kinded.Kind != KindInternal {
		return kinded.Msg
	}
	if errors.Is(err, context.Canceled) {
		return "operation cancelled"
	}
	return "internal server error"
}

// HTTPStatus maps an error kind to its response status per the API contract
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		// Caller-initiated cancellation is normally swallowed before reaching
		// a response writer; a late map falls back to client-closed-request.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

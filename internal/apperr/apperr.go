// Package apperr defines the error taxonomy shared by the socket and REST
// surfaces.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any AppError with the same code, so callers can write
// errors.Is(err, apperr.ErrValidation).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

var (
	ErrAuthentication   = &AppError{Code: "authentication", Status: http.StatusUnauthorized, Message: "invalid credential"}
	ErrNotAuthenticated = &AppError{Code: "not_authenticated", Status: http.StatusUnauthorized, Message: "not authenticated"}
	ErrValidation       = &AppError{Code: "validation", Status: http.StatusBadRequest, Message: "invalid request"}
	ErrNotFound         = &AppError{Code: "not_found", Status: http.StatusNotFound, Message: "not found"}
	ErrRateLimited      = &AppError{Code: "rate_limited", Status: http.StatusTooManyRequests, Message: "too many requests"}
	ErrInternal         = &AppError{Code: "internal", Status: http.StatusInternalServerError, Message: "internal error"}
)

func with(base *AppError, msg string, err error) *AppError {
	if msg == "" {
		msg = base.Message
	}
	return &AppError{Code: base.Code, Status: base.Status, Message: msg, Err: err}
}

func Authentication(msg string, err error) error { return with(ErrAuthentication, msg, err) }

func NotAuthenticated() error { return with(ErrNotAuthenticated, "", nil) }

func Validation(format string, args ...interface{}) error {
	return with(ErrValidation, fmt.Sprintf(format, args...), nil)
}

func NotFound(msg string) error { return with(ErrNotFound, msg, nil) }

// Internal wraps an unexpected failure. The cause is kept for logs but never
// rendered to clients.
func Internal(msg string, err error) error { return with(ErrInternal, msg, err) }

// From returns err as an *AppError, treating anything unknown as internal.
func From(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return with(ErrInternal, "", err)
}

// Public is the message safe to show a client.
func Public(err error) string {
	ae := From(err)
	if ae.Code == ErrInternal.Code {
		return ErrInternal.Message
	}
	return ae.Message
}

// Package apperror defines the error taxonomy shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below.
// The HTTP layer maps sentinels to status codes with errors.Is, so the
// service layer never needs to know about HTTP:
//
//	ErrUnauthorized → 401   (authentication / OAuth failures)
//	ErrValidation   → 400
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	ErrRateLimited  → 429
//	ErrDatabase     → 500   (persistence failures)
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDatabase     = errors.New("database error")
	ErrRateLimited  = errors.New("rate limited")
)

// Machine-readable codes carried by authentication errors. Callback handlers
// forward some of them to the browser as the ?error= query parameter.
const (
	CodeInvalidState         = "invalid_state"
	CodeUpstreamOAuthFailure = "upstream_oauth_failure"
	CodeMissingSession       = "missing_session"
)

type AppError struct {
	Err     error  // sentinel used for classification
	Code    string // optional machine-readable kind, e.g. "invalid_state"
	Message string // human-readable, safe to show to clients
	Field   string // optional: field causing a validation error
	Cause   error  // optional: underlying error, never shown to clients
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause so errors.Is
// matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Unauthorized is the authentication failure error (invalid state, upstream
// OAuth failure, missing session). The message must stay generic: provider
// error bodies are logged where they occur and never copied in here.
func Unauthorized(code, message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Code:    code,
		Message: message,
	}
}

// Database wraps a persistence failure. The cause is kept for logs and
// errors.Is checks; clients only see the generic message.
func Database(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrDatabase,
		Message: message,
		Cause:   cause,
	}
}

// RateLimited is returned to clients over their request budget.
func RateLimited() *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: "too many requests, please try again later",
	}
}

// CodeOf returns the machine-readable code of the first AppError in err's
// chain, or "" when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

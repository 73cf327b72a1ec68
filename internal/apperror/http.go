package apperror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Response is the JSON error body every endpoint returns:
//
//	{"error": "not_found", "message": "provider not found with id linkedin"}
type Response struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending field for validation errors
}

const genericMessage = "An internal error occurred"

// HTTPStatus maps err to a status code and the body to send.
//
// ERROR MAPPING:
//
//	ErrUnauthorized → 401  (error = the AppError's code, e.g. "invalid_state")
//	ErrRateLimited  → 429
//	ErrDatabase     → 500  (message replaced by a generic one)
//	ErrValidation   → 400
//	ErrNotFound     → 404
//	ErrConflict     → 409
//
// errors.Is walks the whole chain, so a service error like
// fmt.Errorf("service/user: updating %s: %w", id, apperror.Conflict(...))
// still maps to 409. Anything that is not an AppError is a 500 whose
// detail (SQL, file paths, provider responses) never reaches the client.
func HTTPStatus(err error) (int, Response) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, Response{Error: "internal_error", Message: genericMessage}
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	message := appErr.Message

	switch {
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
		errorType = "unauthorized"
		if appErr.Code != "" {
			errorType = appErr.Code
		}
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
		errorType = "rate_limited"
	case errors.Is(err, ErrDatabase):
		message = genericMessage
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		errorType = "validation_error"
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		errorType = "not_found"
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
		errorType = "conflict"
	default:
		message = genericMessage
	}

	return status, Response{Error: errorType, Message: message, Field: appErr.Field}
}

// WriteHTTP sends err as a JSON error response. Handlers and middleware
// both go through it so every error body has the same shape.
func WriteHTTP(w http.ResponseWriter, err error) {
	status, body := HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		slog.Error("failed to encode error response", slog.String("error", encErr.Error()))
	}
}

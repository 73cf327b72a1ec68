package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every JSON error response from the API has the same shape:
//   {"error": "not_found", "message": "provider not found with id linkedin"}
//
// The dashboard always knows what fields to expect, whether it's a 400,
// 401, 429 or 500.
//
// OAuth callbacks are the exception: the browser arrives there by a provider
// redirect, so they answer with a redirect back to the app instead (see
// AuthHandler.HandleCallback).

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iayvob/Ads-Analytics-V2/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse = apperror.Response

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE the body is written. Once
// Encode calls w.Write, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// decodeJSON reads a bounded JSON body into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("", "invalid JSON body")
	}
	return nil
}

// writeError maps a domain error to its HTTP status and sends it. The
// mapping lives in apperror.HTTPStatus so middleware that cannot import
// this package answers with the same bodies.
func writeError(w http.ResponseWriter, err error) {
	apperror.WriteHTTP(w, err)
}

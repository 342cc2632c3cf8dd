// Package handler implements the HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mintair/mintair-cloud/internal/apperror"
	"github.com/mintair/mintair-cloud/internal/auth"
)

// ErrorResponse is the JSON body returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp := ErrorResponse{Message: appErr.Message, Field: appErr.Field}

		switch {
		case errors.Is(err, apperror.ErrValidation):
			resp.Error = "validation_failed"
			writeJSON(w, http.StatusBadRequest, resp)
		case errors.Is(err, apperror.ErrUnauthorized):
			resp.Error = "unauthorized"
			writeJSON(w, http.StatusUnauthorized, resp)
		case errors.Is(err, apperror.ErrForbidden):
			resp.Error = "forbidden"
			writeJSON(w, http.StatusForbidden, resp)
		case errors.Is(err, apperror.ErrPaymentRequired):
			resp.Error = "payment_required"
			writeJSON(w, http.StatusPaymentRequired, resp)
		case errors.Is(err, apperror.ErrNotFound):
			resp.Error = "not_found"
			writeJSON(w, http.StatusNotFound, resp)
		case errors.Is(err, apperror.ErrConflict):
			resp.Error = "conflict"
			writeJSON(w, http.StatusConflict, resp)
		case errors.Is(err, apperror.ErrUpstream):
			resp.Error = "upstream_error"
			writeJSON(w, http.StatusBadGateway, resp)
		default:
			resp.Error = "internal_error"
			writeJSON(w, http.StatusInternalServerError, resp)
		}
		return
	}

	slog.Error("unhandled error", "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred.",
	})
}

// requireUser pulls the authenticated user id out of the request context.
// Routes behind RequireAuth always have one; the check guards against a
// handler being mounted outside the protected group by mistake.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("Authentication required."))
		return "", false
	}
	return userID, true
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Request body must be valid JSON.")
	}
	return nil
}

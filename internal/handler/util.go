package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManoDarpan/ManoDarpan/pkg/apperr"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusOf maps an error code onto an HTTP status.
func statusOf(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage returns a client-safe message for the error. Internal and
// integrity failures are never surfaced verbatim.
func errorMessage(err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return "internal error"
	}
	switch appErr.Code {
	case apperr.CodeIntegrity:
		return "integrity check failed"
	case apperr.CodeInternal, apperr.CodeUnknown:
		return "internal error"
	default:
		return appErr.Message
	}
}

// writeAppError maps a service error onto an HTTP response.
func writeAppError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{
		"error": errorMessage(err),
		"code":  string(apperr.CodeOf(err)),
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/daikin-cloud-core/internal/cloud"
	"github.com/nerrad567/daikin-cloud-core/internal/engine"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// Error codes returned in the "code" field of error responses.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeUnsupported      = "unsupported_operation"
	ErrCodeCloudUnavailable = "cloud_unavailable"
	ErrCodeSessionUnstable  = "session_unstable"
	ErrCodeNotConfigured    = "not_configured"
	ErrCodeInternal         = "internal_error"
)

// errorResponse is the JSON body for all error replies.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

// writeDomainError maps domain sentinel errors onto HTTP responses. Anything
// unrecognised falls through to a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, unit.ErrUnknownUnit):
		writeNotFound(w, "unknown unit")
	case errors.Is(err, unit.ErrInvalidCommand):
		writeBadRequest(w, err.Error())
	case errors.Is(err, unit.ErrUnsupportedOperation):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, unit.ErrCommandInFlight):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a command is already in flight for this unit")
	case errors.Is(err, cloud.ErrSessionUnstable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeSessionUnstable, "cloud session is unstable, backing off")
	case errors.Is(err, cloud.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "cloud credentials are not configured")
	case errors.Is(err, engine.ErrCommandSubmissionFailed),
		errors.Is(err, cloud.ErrDiscoveryFailed),
		errors.Is(err, cloud.ErrUnitUnreachable),
		errors.Is(err, cloud.ErrCommandRejected),
		errors.Is(err, cloud.ErrUnauthorized),
		errors.Is(err, cloud.ErrAuthenticationFailed):
		writeError(w, http.StatusBadGateway, ErrCodeCloudUnavailable, err.Error())
	default:
		writeInternalError(w)
	}
}

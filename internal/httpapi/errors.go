package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"artifactd/internal/download"
	"artifactd/internal/manager"
	"artifactd/internal/validate"
	"artifactd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known service errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case manager.IsArtifactNotFound(err):
		return http.StatusNotFound
	case manager.IsBusy(err):
		return http.StatusConflict
	case manager.IsInsufficientMemory(err):
		return http.StatusServiceUnavailable
	case validate.ReasonOf(err) != "":
		return http.StatusUnprocessableEntity
	case download.IsCancelled(err):
		return http.StatusConflict
	case errors.As(err, &he):
		return he.StatusCode()
	}
	var se *download.StatusError
	if errors.As(err, &se) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

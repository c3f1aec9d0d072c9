package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/t77yq/groupsummary/internal/evolution"
	"github.com/t77yq/groupsummary/internal/service"
	"github.com/t77yq/groupsummary/internal/storage"
)

const ErrMessageInternal = "internal server error"

// JSONError sends a JSON error response with a single "error" field
func JSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// JSONValidationError sends "error" plus per-field details
func JSONValidationError(w http.ResponseWriter, message string, fields map[string]string, status int) {
	out := map[string]interface{}{"error": message}
	if len(fields) > 0 {
		out["fields"] = fields
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrGroupNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrInvalidConfig):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrScheduleDiverged):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, evolution.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, storage.ErrConfigWriteFailed):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, ErrMessageInternal
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps fingerprint errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, fingerprint.ErrInvalidTolerance), errors.Is(err, fingerprint.ErrIndexDisabled):
		return http.StatusBadRequest
	case errors.Is(err, fingerprint.ErrNoFace), errors.Is(err, fingerprint.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fingerprint.ErrDimensionMismatch), errors.Is(err, fingerprint.ErrCacheIncompatible):
		return http.StatusConflict
	case errors.Is(err, fingerprint.ErrUnknownImage):
		return http.StatusNotFound
	case errors.Is(err, fingerprint.ErrSourceUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/livesync/internal/backend"
	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/presence"
	"github.com/dennisdiepolder/monti/livesync/internal/transport"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, presence.ErrInvalidStatus),
		errors.Is(err, presence.ErrMissingAgent),
		errors.Is(err, presence.ErrMissingAssignment):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrNoSession),
		errors.Is(err, cache.ErrUnknownSlice),
		backend.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrNoHospital):
		return http.StatusConflict
	case errors.Is(err, transport.ErrNotConnected):
		return http.StatusAccepted
	default:
		return http.StatusBadGateway
	}
}

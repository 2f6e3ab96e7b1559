package api

import (
	"net/http"
	"strconv"

	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// StatusHandler exposes the link badge, the recent event log and the
// state of every cache slice
type StatusHandler struct {
	link   func() types.LinkStatus
	events *cache.EventLog
	cache  *cache.QueryCache
	logger zerolog.Logger
}

// NewStatusHandler creates a new StatusHandler. link is usually
// ticker.Ticker.LinkStatus.
func NewStatusHandler(link func() types.LinkStatus, events *cache.EventLog, qc *cache.QueryCache, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		link:   link,
		events: events,
		cache:  qc,
		logger: logger.With().Str("component", "status_api").Logger(),
	}
}

// GetStatus handles GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.link())
}

// GetEvents handles GET /api/events?limit=N
func (h *StatusHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events := h.events.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
		"total":  h.events.Total(),
	})
}

// GetSlices handles GET /api/slices
func (h *StatusHandler) GetSlices(w http.ResponseWriter, r *http.Request) {
	slices := h.cache.Slices()
	writeJSON(w, http.StatusOK, map[string]any{
		"slices": slices,
		"count":  len(slices),
	})
}

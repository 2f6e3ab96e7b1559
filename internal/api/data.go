package api

import (
	"context"
	"net/http"

	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/backend"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DataHandler serves the cached hospital slices to dashboards
type DataHandler struct {
	slices *backend.Slices
	logger zerolog.Logger
}

// NewDataHandler creates a new DataHandler
func NewDataHandler(slices *backend.Slices, logger zerolog.Logger) *DataHandler {
	return &DataHandler{
		slices: slices,
		logger: logger.With().Str("component", "data_api").Logger(),
	}
}

// RequireHospitalAccess rejects users whose claims don't cover the
// console's hospital
func (h *DataHandler) RequireHospitalAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if ok && !claims.CanSeeHospital(h.slices.Hospital()) {
			writeError(w, http.StatusForbidden, "hospital access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serve writes the result of read, mapping its error to a status
func serve[T any](h *DataHandler, w http.ResponseWriter, r *http.Request, slice string, read func(ctx context.Context) (T, error)) {
	v, err := read(r.Context())
	if err != nil {
		status := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("slice", slice).Msg("failed to read slice")
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetCalls handles GET /api/calls
func (h *DataHandler) GetCalls(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "calls", h.slices.Calls)
}

// GetCall handles GET /api/calls/{callId}
func (h *DataHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	serve(h, w, r, "call", func(ctx context.Context) (any, error) {
		return h.slices.Call(ctx, callID)
	})
}

// GetAnalytics handles GET /api/analytics
func (h *DataHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "analytics", h.slices.Analytics)
}

// GetAssignments handles GET /api/assignments
func (h *DataHandler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "assignments", h.slices.Assignments)
}

// GetAgentSession handles GET /api/agents/{agentId}/remote-session, the
// backend's record of the agent
func (h *DataHandler) GetAgentSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	serve(h, w, r, "agent_session", func(ctx context.Context) (any, error) {
		return h.slices.AgentSession(ctx, agentID)
	})
}

// GetQueues handles GET /api/queues
func (h *DataHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	serve(h, w, r, "queues", h.slices.Queues)
}

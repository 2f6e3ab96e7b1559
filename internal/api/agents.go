package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dennisdiepolder/monti/livesync/internal/presence"
	"github.com/dennisdiepolder/monti/livesync/internal/transport"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentHandler provides REST endpoints for agent dashboards: mounting a
// session, changing presence and answering assignments
type AgentHandler struct {
	presence *presence.Controller
	logger   zerolog.Logger
}

// NewAgentHandler creates a new AgentHandler
func NewAgentHandler(ctrl *presence.Controller, logger zerolog.Logger) *AgentHandler {
	return &AgentHandler{
		presence: ctrl,
		logger:   logger.With().Str("component", "agent_api").Logger(),
	}
}

type statusRequest struct {
	Status types.AgentStatus `json:"status"`
}

type assignmentRequest struct {
	AgentID string `json:"agentId"`
	Reason  string `json:"reason,omitempty"`
}

// commandResult tells the dashboard whether the command reached the
// orchestrator. Undelivered commands are not retried.
type commandResult struct {
	Delivered bool                `json:"delivered"`
	Session   *types.AgentSession `json:"session,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ListSessions handles GET /api/agents/sessions
func (h *AgentHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.presence.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// MountSession handles POST /api/agents/{agentId}/session
func (h *AgentHandler) MountSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	session, err := h.presence.Mount(agentID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	h.logger.Info().Str("agent_id", agentID).Str("session_id", session.SessionID).Msg("agent session mounted")
	writeJSON(w, http.StatusCreated, session)
}

// GetSession handles GET /api/agents/{agentId}/session
func (h *AgentHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	session, ok := h.presence.Session(agentID)
	if !ok {
		writeError(w, http.StatusNotFound, "agent session not mounted")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// UnmountSession handles DELETE /api/agents/{agentId}/session
func (h *AgentHandler) UnmountSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	if !h.presence.Unmount(agentID) {
		writeError(w, http.StatusNotFound, "agent session not mounted")
		return
	}

	h.logger.Info().Str("agent_id", agentID).Msg("agent session unmounted")
	w.WriteHeader(http.StatusNoContent)
}

// SetStatus handles POST /api/agents/{agentId}/status
func (h *AgentHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.presence.SetStatus(agentID, req.Status)
	if err != nil && !errors.Is(err, transport.ErrNotConnected) {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	result := commandResult{Delivered: err == nil}
	if err != nil {
		result.Error = err.Error()
	}
	if session, ok := h.presence.Session(agentID); ok {
		result.Session = &session
	}
	writeJSON(w, commandStatus(err), result)
}

// AcceptAssignment handles POST /api/assignments/{assignmentId}/accept
func (h *AgentHandler) AcceptAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignmentId")

	var req assignmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.respondCommand(w, h.presence.AcceptAssignment(assignmentID, req.AgentID))
}

// RejectAssignment handles POST /api/assignments/{assignmentId}/reject
func (h *AgentHandler) RejectAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID := chi.URLParam(r, "assignmentId")

	var req assignmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.respondCommand(w, h.presence.RejectAssignment(assignmentID, req.AgentID, req.Reason))
}

func (h *AgentHandler) respondCommand(w http.ResponseWriter, err error) {
	if err != nil && !errors.Is(err, transport.ErrNotConnected) {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	result := commandResult{Delivered: err == nil}
	if err != nil {
		result.Error = err.Error()
	}
	writeJSON(w, commandStatus(err), result)
}

func commandStatus(err error) int {
	if err != nil {
		return http.StatusAccepted
	}
	return http.StatusOK
}

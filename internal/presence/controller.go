package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/alerts"
	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidStatus     = errors.New("invalid agent status")
	ErrNoSession         = errors.New("agent session not mounted")
	ErrMissingAgent      = errors.New("agent id required")
	ErrMissingAssignment = errors.New("assignment id required")
)

// Sender delivers outbound commands. transport.Client implements it.
type Sender interface {
	Send(cmd types.CommandType, payload any) error
}

// Invalidator marks cache slices stale
type Invalidator interface {
	Invalidate(prefix string) []string
}

// Controller turns agent actions into outbound commands and tracks each
// mounted agent's optimistic status until the server confirms it.
type Controller struct {
	sender   Sender
	inv      Invalidator
	hospital string
	sessions map[string]*types.AgentSession
	hooks    []func(types.AgentSession)
	removed  []func(types.AgentSession)
	now      func() time.Time
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// New creates a controller for one hospital
func New(sender Sender, inv Invalidator, hospitalID string, logger zerolog.Logger) *Controller {
	return &Controller{
		sender:   sender,
		inv:      inv,
		hospital: hospitalID,
		sessions: make(map[string]*types.AgentSession),
		now:      time.Now,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// OnChange registers a hook called with a copy of a session after it changes
func (c *Controller) OnChange(fn func(types.AgentSession)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// OnRemove registers a hook called with the last state of an unmounted
// session
func (c *Controller) OnRemove(fn func(types.AgentSession)) {
	c.mu.Lock()
	c.removed = append(c.removed, fn)
	c.mu.Unlock()
}

// Mount creates the session for an agent dashboard. Mounting an agent
// that is already mounted returns the existing session.
func (c *Controller) Mount(agentID string) (types.AgentSession, error) {
	if agentID == "" {
		return types.AgentSession{}, ErrMissingAgent
	}

	c.mu.Lock()
	if s, ok := c.sessions[agentID]; ok {
		out := c.snapshotLocked(s)
		c.mu.Unlock()
		return out, nil
	}

	now := c.now()
	s := &types.AgentSession{
		SessionID:   uuid.NewString(),
		AgentID:     agentID,
		HospitalID:  c.hospital,
		Status:      types.StatusOnline,
		StatusSince: now,
		MountedAt:   now,
	}
	c.sessions[agentID] = s
	out := c.snapshotLocked(s)
	c.mu.Unlock()

	c.logger.Info().Str("agent_id", agentID).Str("session_id", s.SessionID).Msg("agent session mounted")
	c.notify(out)
	return out, nil
}

// Unmount discards an agent's session. It reports whether one existed.
func (c *Controller) Unmount(agentID string) bool {
	c.mu.Lock()
	s, ok := c.sessions[agentID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.sessions, agentID)
	out := *s
	out.Alerts = nil
	hooks := append([]func(types.AgentSession){}, c.removed...)
	c.mu.Unlock()

	c.logger.Info().Str("agent_id", agentID).Str("session_id", s.SessionID).Msg("agent session unmounted")
	for _, h := range hooks {
		h(out)
	}
	return true
}

// Session returns a copy of an agent's session with current alerts
func (c *Controller) Session(agentID string) (types.AgentSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[agentID]
	if !ok {
		return types.AgentSession{}, false
	}
	return c.snapshotLocked(s), true
}

// Sessions returns copies of every mounted session, sorted by agent id
func (c *Controller) Sessions() []types.AgentSession {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.AgentSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SetStatus shows status immediately as pending and sends the change to
// the orchestrator. The displayed status is kept even if the send is
// dropped; the next agent:status:updated for the agent settles it.
func (c *Controller) SetStatus(agentID string, status types.AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	c.mu.Lock()
	s, ok := c.sessions[agentID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSession, agentID)
	}
	now := c.now()
	if s.Status != status {
		s.StatusSince = now
	}
	s.Status = status
	s.PendingStatus = status
	s.PendingSince = &now
	out := c.snapshotLocked(s)
	c.mu.Unlock()

	c.notify(out)

	if err := c.sender.Send(types.CommandAgentStatus, types.AgentStatusCommand{
		AgentID: agentID,
		Status:  status,
	}); err != nil {
		c.logger.Warn().Err(err).Str("agent_id", agentID).Str("status", string(status)).Msg("status change not delivered")
		return fmt.Errorf("send agent status: %w", err)
	}
	return nil
}

// AcceptAssignment sends an accept command and refetches the assignment list
func (c *Controller) AcceptAssignment(assignmentID, agentID string) error {
	return c.assignmentCommand(types.CommandAssignmentAccept, types.AssignmentCommand{
		AssignmentID: assignmentID,
		AgentID:      agentID,
	})
}

// RejectAssignment sends a reject command and refetches the assignment
// list. An empty reason is sent as DefaultRejectReason.
func (c *Controller) RejectAssignment(assignmentID, agentID, reason string) error {
	if reason == "" {
		reason = types.DefaultRejectReason
	}
	return c.assignmentCommand(types.CommandAssignmentReject, types.AssignmentCommand{
		AssignmentID: assignmentID,
		AgentID:      agentID,
		Reason:       reason,
	})
}

func (c *Controller) assignmentCommand(cmd types.CommandType, payload types.AssignmentCommand) error {
	if payload.AssignmentID == "" {
		return ErrMissingAssignment
	}
	if payload.AgentID == "" {
		return ErrMissingAgent
	}

	err := c.sender.Send(cmd, payload)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("command", string(cmd)).
			Str("assignment_id", payload.AssignmentID).
			Msg("assignment command not delivered")
	}

	c.mu.RLock()
	hospital := c.hospital
	c.mu.RUnlock()
	if hospital != "" {
		c.inv.Invalidate(cache.Assignments(hospital))
	}

	if err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// Attach registers the controller's inbound listeners and returns a func
// that removes them
func (c *Controller) Attach(router *event.Router) func() {
	statusID := router.On(types.EventAgentStatusUpdated, c.handleStatusUpdated)
	detachActivity := router.OnTypes([]types.EventType{
		types.EventAssignmentNew,
		types.EventAssignmentStatusChanged,
		types.EventCallTransferredIn,
		types.EventCallTransferredOut,
	}, c.handleActivity)

	return func() {
		router.Off(types.EventAgentStatusUpdated, statusID)
		detachActivity()
	}
}

// handleStatusUpdated applies the server's view of an agent's status.
// The server wins over any pending local change.
func (c *Controller) handleStatusUpdated(evt types.Event) error {
	var p types.AgentStatusPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}

	c.mu.Lock()
	s, ok := c.sessions[p.AgentID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if s.PendingStatus != "" && s.PendingStatus != p.Status {
		c.logger.Warn().
			Str("agent_id", p.AgentID).
			Str("requested", string(s.PendingStatus)).
			Str("confirmed", string(p.Status)).
			Msg("status change overridden by server")
	}
	now := c.now()
	if s.Status != p.Status {
		s.StatusSince = now
	}
	s.Status = p.Status
	s.ConfirmedStatus = p.Status
	s.PendingStatus = ""
	s.PendingSince = nil
	s.LastEvent = evt.Type
	s.LastActivity = &now
	out := c.snapshotLocked(s)
	c.mu.Unlock()

	c.notify(out)
	return nil
}

// handleActivity records assignment and transfer events on the sessions
// of the agents they name. The reconciler refetches the assignment list.
func (c *Controller) handleActivity(evt types.Event) error {
	var p types.AssignmentPayload
	if err := evt.Decode(&p); err != nil {
		return err
	}

	var changed []types.AgentSession
	c.mu.Lock()
	now := c.now()
	for _, id := range uniqueIDs(p.AgentID, p.FromAgentID, p.ToAgentID) {
		s, ok := c.sessions[id]
		if !ok {
			continue
		}
		s.LastActivity = &now
		s.LastEvent = evt.Type
		changed = append(changed, c.snapshotLocked(s))
	}
	c.mu.Unlock()

	for _, s := range changed {
		c.notify(s)
	}
	return nil
}

func uniqueIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (c *Controller) snapshotLocked(s *types.AgentSession) types.AgentSession {
	out := *s
	if s.PendingSince != nil {
		t := *s.PendingSince
		out.PendingSince = &t
	}
	if s.LastActivity != nil {
		t := *s.LastActivity
		out.LastActivity = &t
	}
	alerts.CheckSession(&out, c.now())
	return out
}

func (c *Controller) notify(s types.AgentSession) {
	c.mu.RLock()
	hooks := append([]func(types.AgentSession){}, c.hooks...)
	c.mu.RUnlock()

	for _, h := range hooks {
		h(s)
	}
}

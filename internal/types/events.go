package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the type tag of a frame received from the voice orchestrator
type EventType string

const (
	// Call lifecycle
	EventCallStarted   EventType = "call:started"
	EventCallUpdated   EventType = "call:updated"
	EventCallCompleted EventType = "call:completed"
	EventCallError     EventType = "call:error"

	// Transfers between agents
	EventCallTransferredIn  EventType = "call:transferred:in"
	EventCallTransferredOut EventType = "call:transferred:out"

	// Assignment workflow
	EventAssignmentNew           EventType = "assignment:new"
	EventAssignmentStatusChanged EventType = "assignment:status:changed"

	// Presence, queues and broadcast alerts
	EventAgentStatusUpdated EventType = "agent:status:updated"
	EventQueueUpdated       EventType = "queue:updated"
	EventEmergencyAlert     EventType = "emergency:alert"
)

// InboundEventTypes lists every event type the console understands
var InboundEventTypes = []EventType{
	EventCallStarted,
	EventCallUpdated,
	EventCallCompleted,
	EventCallError,
	EventCallTransferredIn,
	EventCallTransferredOut,
	EventAssignmentNew,
	EventAssignmentStatusChanged,
	EventAgentStatusUpdated,
	EventQueueUpdated,
	EventEmergencyAlert,
}

// Event is a decoded inbound frame
type Event struct {
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"` // as sent by the orchestrator
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Decode unmarshals the event payload into v
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ids holds the identifiers most payloads carry
type ids struct {
	CallID       string `json:"callId"`
	AgentID      string `json:"agentId"`
	AssignmentID string `json:"assignmentId"`
}

func (e Event) ids() ids {
	var out ids
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &out)
	}
	return out
}

// CallID returns the callId carried by the payload, or "" if there is none
func (e Event) CallID() string { return e.ids().CallID }

// AgentID returns the agentId carried by the payload, or "" if there is none
func (e Event) AgentID() string { return e.ids().AgentID }

// AssignmentID returns the assignmentId carried by the payload, or ""
func (e Event) AssignmentID() string { return e.ids().AssignmentID }

// CallPayload is the payload of the call:* lifecycle events
type CallPayload struct {
	CallID     string  `json:"callId"`
	HospitalID string  `json:"hospitalId,omitempty"`
	AgentID    string  `json:"agentId,omitempty"`
	Status     string  `json:"status,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // seconds
	Error      string  `json:"error,omitempty"`
}

// AgentStatusPayload confirms an agent's presence status
type AgentStatusPayload struct {
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// AssignmentPayload is the payload of assignment and transfer events
type AssignmentPayload struct {
	AssignmentID string `json:"assignmentId,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
	CallID       string `json:"callId,omitempty"`
	Status       string `json:"status,omitempty"`
	FromAgentID  string `json:"fromAgentId,omitempty"`
	ToAgentID    string `json:"toAgentId,omitempty"`
}

package types

// CommandType is the type tag of a frame sent to the voice orchestrator
type CommandType string

const (
	CommandAgentStatus      CommandType = "agent:status"
	CommandAssignmentAccept CommandType = "assignment:accept"
	CommandAssignmentReject CommandType = "assignment:reject"
)

// DefaultRejectReason is sent when an agent declines without giving a reason
const DefaultRejectReason = "Agent declined"

// OutboundMessage is the wire envelope for commands
type OutboundMessage struct {
	Type    CommandType `json:"type"`
	Payload any         `json:"payload"`
}

// AgentStatusCommand requests a presence change
type AgentStatusCommand struct {
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// AssignmentCommand accepts or rejects an assignment
type AssignmentCommand struct {
	AssignmentID string `json:"assignmentId"`
	AgentID      string `json:"agentId"`
	Reason       string `json:"reason,omitempty"` // reject only
}

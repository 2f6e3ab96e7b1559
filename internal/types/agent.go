package types

import "time"

// AgentStatus is an agent's presence status
type AgentStatus string

const (
	StatusOnline  AgentStatus = "ONLINE"
	StatusBusy    AgentStatus = "BUSY"
	StatusBreak   AgentStatus = "BREAK"
	StatusAway    AgentStatus = "AWAY"
	StatusOffline AgentStatus = "OFFLINE"
)

// AllStatuses lists the valid presence statuses
var AllStatuses = []AgentStatus{
	StatusOnline,
	StatusBusy,
	StatusBreak,
	StatusAway,
	StatusOffline,
}

// Valid reports whether s is a known presence status
func (s AgentStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// AlertSeverity represents alert severity levels
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AgentAlert is a threshold alert raised on an agent session
type AgentAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// AgentSession is the console's local view of a mounted agent dashboard.
// Status is what the console displays; it may run ahead of ConfirmedStatus
// while PendingStatus awaits an agent:status:updated confirmation.
type AgentSession struct {
	SessionID       string       `json:"sessionId"`
	AgentID         string       `json:"agentId"`
	HospitalID      string       `json:"hospitalId"`
	Status          AgentStatus  `json:"status"`
	ConfirmedStatus AgentStatus  `json:"confirmedStatus,omitempty"`
	PendingStatus   AgentStatus  `json:"pendingStatus,omitempty"`
	PendingSince    *time.Time   `json:"pendingSince,omitempty"`
	StatusSince     time.Time    `json:"statusSince"`
	MountedAt       time.Time    `json:"mountedAt"`
	LastActivity    *time.Time   `json:"lastActivity,omitempty"`
	LastEvent       EventType    `json:"lastEvent,omitempty"`
	Alerts          []AgentAlert `json:"alerts,omitempty"`
}

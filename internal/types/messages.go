package types

import "time"

// UpdateType tags a message pushed to dashboard clients
type UpdateType string

const (
	UpdateLinkStatus          UpdateType = "link_status"
	UpdateLiveCount           UpdateType = "live_count"
	UpdateSliceRefreshed      UpdateType = "slice_refreshed"
	UpdateAgentSession        UpdateType = "agent_session"
	UpdateAgentSessionRemoved UpdateType = "agent_session_removed"
	UpdateEmergencyAlert      UpdateType = "emergency_alert"
	UpdateQueue               UpdateType = "queue_updated"
)

// ConsoleUpdate is the envelope sent to dashboard clients.
// An empty HospitalID reaches every client.
type ConsoleUpdate struct {
	Type       UpdateType `json:"type"`
	HospitalID string     `json:"hospitalId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Data       any        `json:"data,omitempty"`
}

// LinkStatus describes the orchestrator connection as shown in the console badge
type LinkStatus struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	Endpoint   string `json:"endpoint"`
	HospitalID string `json:"hospitalId,omitempty"`
	LiveCalls  int    `json:"liveCalls"`
}

// SliceInfo describes one cached slice
type SliceInfo struct {
	Key           string     `json:"key"`
	Stale         bool       `json:"stale"`
	Fetching      bool       `json:"fetching"`
	HasValue      bool       `json:"hasValue"`
	Invalidations int        `json:"invalidations"`
	Fetches       int        `json:"fetches"`
	FetchedAt     *time.Time `json:"fetchedAt,omitempty"`
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
}

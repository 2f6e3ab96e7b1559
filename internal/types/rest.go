package types

import "time"

// Call is a call as listed by the core API
type Call struct {
	ID           string     `json:"id"`
	HospitalID   string     `json:"hospitalId"`
	Status       string     `json:"status"`
	CallerNumber string     `json:"callerNumber,omitempty"`
	AgentID      string     `json:"agentId,omitempty"`
	QueueID      string     `json:"queueId,omitempty"`
	Intent       string     `json:"intent,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Duration     float64    `json:"duration,omitempty"` // seconds
	Transcript   string     `json:"transcript,omitempty"`
}

// CallAnalytics summarizes calls for a hospital over a date range
type CallAnalytics struct {
	TotalCalls      int            `json:"totalCalls"`
	CompletedCalls  int            `json:"completedCalls"`
	FailedCalls     int            `json:"failedCalls"`
	AverageDuration float64        `json:"averageDuration"` // seconds
	ByStatus        map[string]int `json:"byStatus,omitempty"`
	ByIntent        map[string]int `json:"byIntent,omitempty"`
}

// Assignment offers a call to an agent
type Assignment struct {
	ID        string    `json:"id"`
	CallID    string    `json:"callId"`
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RemoteAgentSession is the server's record of an agent's work session
type RemoteAgentSession struct {
	AgentID       string      `json:"agentId"`
	Status        AgentStatus `json:"status"`
	StartedAt     time.Time   `json:"startedAt"`
	CallsHandled  int         `json:"callsHandled"`
	CurrentCallID string      `json:"currentCallId,omitempty"`
}

// Queue is a call queue with its current depth
type Queue struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Waiting       int     `json:"waiting"`
	AvailableReps int     `json:"availableAgents"`
	LongestWait   float64 `json:"longestWait"` // seconds
}

// CallPage is one page of the call list
type CallPage struct {
	Data     []Call `json:"data"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"pageSize"`
}

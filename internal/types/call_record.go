package types

// CallRecord represents a finished call for DynamoDB persistence
type CallRecord struct {
	DateKey    string  `json:"dateKey" dynamodbav:"DateKey"` // YYYY-MM-DD (partition key)
	CallID     string  `json:"callId" dynamodbav:"CallID"`   // sort key
	HospitalID string  `json:"hospitalId" dynamodbav:"HospitalID"`
	AgentID    string  `json:"agentId,omitempty" dynamodbav:"AgentID,omitempty"`
	Outcome    string  `json:"outcome" dynamodbav:"Outcome"` // completed | error
	Status     string  `json:"status,omitempty" dynamodbav:"Status,omitempty"`
	Duration   float64 `json:"duration" dynamodbav:"Duration"` // seconds
	Error      string  `json:"error,omitempty" dynamodbav:"Error,omitempty"`
	SentAt     string  `json:"sentAt,omitempty" dynamodbav:"SentAt,omitempty"` // orchestrator timestamp
	ReceivedAt string  `json:"receivedAt" dynamodbav:"ReceivedAt"`             // RFC3339
}

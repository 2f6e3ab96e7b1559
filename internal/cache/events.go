package cache

import (
	"sync"

	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

// EventLog keeps the most recent inbound events in memory
type EventLog struct {
	events []types.Event
	limit  int
	total  int64
	mu     sync.RWMutex
}

// NewEventLog creates a log that keeps at most limit events
func NewEventLog(limit int) *EventLog {
	if limit <= 0 {
		limit = 200
	}
	return &EventLog{
		events: make([]types.Event, 0, limit),
		limit:  limit,
	}
}

// Add appends an event, dropping the oldest one when full
func (l *EventLog) Add(event types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) == l.limit {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.limit-1]
	}
	l.events = append(l.events, event)
	l.total++
}

// Record is an event.Listener that adds every dispatched event
func (l *EventLog) Record(event types.Event) error {
	l.Add(event)
	return nil
}

// Recent returns up to n events, oldest first. n <= 0 returns all.
func (l *EventLog) Recent(n int) []types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if n > 0 && n < len(l.events) {
		start = len(l.events) - n
	}
	out := make([]types.Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Size returns the current number of kept events
func (l *EventLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Total returns how many events were ever added
func (l *EventLog) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

package aggregator

import (
	"sync"

	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// LiveCounter keeps a session-scoped count of calls in progress. It is
// incremented per call:started and decremented, never below zero, per
// call:completed. It is not re-derived from server data.
type LiveCounter struct {
	count  int
	hooks  []func(int)
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewLiveCounter creates a counter starting at zero
func NewLiveCounter(logger zerolog.Logger) *LiveCounter {
	return &LiveCounter{
		logger: logger.With().Str("component", "live_counter").Logger(),
	}
}

// Attach registers the counter on the router and returns a func that
// removes its listeners
func (c *LiveCounter) Attach(router *event.Router) func() {
	started := router.On(types.EventCallStarted, c.handleStarted)
	completed := router.On(types.EventCallCompleted, c.handleCompleted)
	return func() {
		router.Off(types.EventCallStarted, started)
		router.Off(types.EventCallCompleted, completed)
	}
}

// OnChange registers a hook called with the new count after every change
func (c *LiveCounter) OnChange(fn func(int)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Count returns the current value
func (c *LiveCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Reset sets the counter back to zero for a new session
func (c *LiveCounter) Reset() {
	c.set(func(int) int { return 0 })
}

// Started records a started call
func (c *LiveCounter) Started() int {
	return c.set(func(n int) int { return n + 1 })
}

// Completed records a completed call. The count never goes negative.
func (c *LiveCounter) Completed() int {
	return c.set(func(n int) int {
		if n == 0 {
			return 0
		}
		return n - 1
	})
}

func (c *LiveCounter) handleStarted(evt types.Event) error {
	n := c.Started()
	c.logger.Debug().Str("call_id", evt.CallID()).Int("live_calls", n).Msg("call started")
	return nil
}

func (c *LiveCounter) handleCompleted(evt types.Event) error {
	n := c.Completed()
	c.logger.Debug().Str("call_id", evt.CallID()).Int("live_calls", n).Msg("call completed")
	return nil
}

func (c *LiveCounter) set(next func(int) int) int {
	c.mu.Lock()
	old := c.count
	c.count = next(old)
	n := c.count
	hooks := append([]func(int){}, c.hooks...)
	c.mu.Unlock()

	if n != old {
		for _, h := range hooks {
			h(n)
		}
	}
	return n
}

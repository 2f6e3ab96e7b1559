package ticker

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// Publisher pushes updates to dashboards. websocket.Hub implements it.
type Publisher interface {
	Publish(update types.ConsoleUpdate)
}

// LinkSource reports the orchestrator connection. transport.Client
// implements it.
type LinkSource interface {
	Status() types.LinkStatus
}

// SessionSource lists mounted agent sessions with their alerts
type SessionSource interface {
	Sessions() []types.AgentSession
}

// Ticker periodically publishes the link status badge and any agent
// sessions that carry alerts
type Ticker struct {
	pub       Publisher
	link      LinkSource
	liveCalls func() int
	sessions  SessionSource
	hospital  string
	interval  time.Duration
	logger    zerolog.Logger
}

// NewTicker creates a new Ticker. liveCalls and sessions may be nil.
func NewTicker(pub Publisher, link LinkSource, liveCalls func() int, sessions SessionSource, hospitalID string, interval time.Duration, logger zerolog.Logger) *Ticker {
	return &Ticker{
		pub:       pub,
		link:      link,
		liveCalls: liveCalls,
		sessions:  sessions,
		hospital:  hospitalID,
		interval:  interval,
		logger:    logger.With().Str("component", "ticker").Logger(),
	}
}

// LinkStatus returns the current badge state
func (t *Ticker) LinkStatus() types.LinkStatus {
	status := t.link.Status()
	status.HospitalID = t.hospital
	if t.liveCalls != nil {
		status.LiveCalls = t.liveCalls()
	}
	return status
}

// Start publishes updates every interval until ctx ends
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("ticker started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("ticker stopped")
			return

		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

func (t *Ticker) tick(now time.Time) {
	status := t.LinkStatus()
	t.pub.Publish(types.ConsoleUpdate{
		Type:       types.UpdateLinkStatus,
		HospitalID: t.hospital,
		Timestamp:  now,
		Data:       status,
	})

	alerting := 0
	if t.sessions != nil {
		for _, s := range t.sessions.Sessions() {
			if len(s.Alerts) == 0 {
				continue
			}
			alerting++
			t.pub.Publish(types.ConsoleUpdate{
				Type:       types.UpdateAgentSession,
				HospitalID: s.HospitalID,
				Timestamp:  now,
				Data:       s,
			})
		}
	}

	t.logger.Debug().
		Str("state", status.State).
		Int("live_calls", status.LiveCalls).
		Int("alerting_sessions", alerting).
		Msg("published link status")
}

package alerts

import (
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

const (
	UnconfirmedAfter = 10 * time.Second
	BreakLongAfter   = 10 * time.Minute
	AwayLongAfter    = 15 * time.Minute
)

// CheckSessions evaluates alert rules for a slice of sessions,
// mutating each session's Alerts field in place.
func CheckSessions(sessions []types.AgentSession, now time.Time) {
	for i := range sessions {
		CheckSession(&sessions[i], now)
	}
}

// CheckSession replaces s.Alerts with the alerts that apply at now
func CheckSession(s *types.AgentSession, now time.Time) {
	s.Alerts = nil

	if s.PendingStatus != "" && s.PendingSince != nil {
		dur := now.Sub(*s.PendingSince)
		if dur > UnconfirmedAfter {
			s.Alerts = append(s.Alerts, types.AgentAlert{
				Rule:     "status_unconfirmed",
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("%s not confirmed for %s", s.PendingStatus, formatDuration(dur)),
			})
		}
	}

	dur := now.Sub(s.StatusSince)
	switch s.Status {
	case types.StatusBreak:
		if dur > BreakLongAfter {
			s.Alerts = append(s.Alerts, types.AgentAlert{
				Rule:     "break_long",
				Severity: types.SeverityCritical,
				Message:  fmt.Sprintf("Break for %s", formatDuration(dur)),
			})
		}
	case types.StatusAway:
		if dur > AwayLongAfter {
			s.Alerts = append(s.Alerts, types.AgentAlert{
				Rule:     "away_long",
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("Away for %s", formatDuration(dur)),
			})
		}
	}
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}

package alerts

import (
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

func TestCheckSession(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name    string
		session types.AgentSession
		rules   []string
	}{
		{
			name:    "online no alerts",
			session: types.AgentSession{Status: types.StatusOnline, StatusSince: now.Add(-time.Hour)},
		},
		{
			name:    "short break",
			session: types.AgentSession{Status: types.StatusBreak, StatusSince: now.Add(-5 * time.Minute)},
		},
		{
			name:    "long break",
			session: types.AgentSession{Status: types.StatusBreak, StatusSince: now.Add(-11 * time.Minute)},
			rules:   []string{"break_long"},
		},
		{
			name:    "long away",
			session: types.AgentSession{Status: types.StatusAway, StatusSince: now.Add(-16 * time.Minute)},
			rules:   []string{"away_long"},
		},
		{
			name: "fresh pending",
			session: types.AgentSession{
				Status:        types.StatusBreak,
				StatusSince:   now.Add(-2 * time.Second),
				PendingStatus: types.StatusBreak,
				PendingSince:  ago(2 * time.Second),
			},
		},
		{
			name: "unconfirmed pending",
			session: types.AgentSession{
				Status:        types.StatusAway,
				StatusSince:   now.Add(-12 * time.Second),
				PendingStatus: types.StatusAway,
				PendingSince:  ago(12 * time.Second),
			},
			rules: []string{"status_unconfirmed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.session
			CheckSession(&s, now)

			if len(s.Alerts) != len(tt.rules) {
				t.Fatalf("expected %v, got %+v", tt.rules, s.Alerts)
			}
			for i, rule := range tt.rules {
				if s.Alerts[i].Rule != rule {
					t.Errorf("expected rule %s, got %s", rule, s.Alerts[i].Rule)
				}
			}
		})
	}
}

func TestCheckSessionsClearsOldAlerts(t *testing.T) {
	now := time.Now()
	sessions := []types.AgentSession{
		{
			Status:      types.StatusOnline,
			StatusSince: now,
			Alerts:      []types.AgentAlert{{Rule: "break_long"}},
		},
		{
			Status:      types.StatusBreak,
			StatusSince: now.Add(-20 * time.Minute),
		},
	}

	CheckSessions(sessions, now)

	if sessions[0].Alerts != nil {
		t.Errorf("expected stale alerts cleared, got %+v", sessions[0].Alerts)
	}
	if len(sessions[1].Alerts) != 1 || sessions[1].Alerts[0].Severity != types.SeverityCritical {
		t.Errorf("expected critical break alert, got %+v", sessions[1].Alerts)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "1m30s"},
		{12 * time.Second, "0m12s"},
		{75 * time.Minute, "1h15m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

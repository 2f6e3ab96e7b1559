package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default values",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "8090" {
					t.Errorf("expected port 8090, got %s", cfg.Port)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("expected log level info, got %s", cfg.LogLevel)
				}
				if cfg.OrchestratorURL != "ws://localhost:3002" {
					t.Errorf("expected default orchestrator url, got %s", cfg.OrchestratorURL)
				}
				if cfg.ReconnectBaseDelay != time.Second {
					t.Errorf("expected base delay 1s, got %v", cfg.ReconnectBaseDelay)
				}
				if cfg.ReconnectMaxDelay != 30*time.Second {
					t.Errorf("expected max delay 30s, got %v", cfg.ReconnectMaxDelay)
				}
				if cfg.MaxReconnectAttempts != 5 {
					t.Errorf("expected 5 reconnect attempts, got %d", cfg.MaxReconnectAttempts)
				}
				if cfg.StatusInterval != time.Second {
					t.Errorf("expected status interval 1s, got %v", cfg.StatusInterval)
				}
				if cfg.SliceIdleTTL != 5*time.Minute {
					t.Errorf("expected slice idle ttl 5m, got %v", cfg.SliceIdleTTL)
				}
				if cfg.SkipAuth {
					t.Error("expected SkipAuth to default to false")
				}
				if !cfg.IsDev() {
					t.Error("expected development mode by default")
				}
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"PORT":                   "9000",
				"LOG_LEVEL":              "debug",
				"VOICE_ORCHESTRATOR_URL": "https://voice.example.com",
				"API_BASE_URL":           "https://api.example.com/",
				"HOSPITAL_ID":            "h1",
				"RECONNECT_BASE_DELAY":   "250ms",
				"RECONNECT_MAX_DELAY":    "5s",
				"MAX_RECONNECT_ATTEMPTS": "3",
				"SKIP_AUTH":              "true",
				"ENV":                    "production",
				"ALLOWED_ORIGINS":        "http://example.com, http://test.com",
			},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Port != "9000" {
					t.Errorf("expected port 9000, got %s", cfg.Port)
				}
				if cfg.OrchestratorURL != "https://voice.example.com" {
					t.Errorf("unexpected orchestrator url %s", cfg.OrchestratorURL)
				}
				if cfg.APIBaseURL != "https://api.example.com" {
					t.Errorf("expected trailing slash trimmed, got %s", cfg.APIBaseURL)
				}
				if cfg.HospitalID != "h1" {
					t.Errorf("expected hospital h1, got %s", cfg.HospitalID)
				}
				if cfg.ReconnectBaseDelay != 250*time.Millisecond {
					t.Errorf("expected base delay 250ms, got %v", cfg.ReconnectBaseDelay)
				}
				if cfg.MaxReconnectAttempts != 3 {
					t.Errorf("expected 3 attempts, got %d", cfg.MaxReconnectAttempts)
				}
				if !cfg.SkipAuth {
					t.Error("expected SkipAuth true")
				}
				if cfg.IsDev() {
					t.Error("expected production mode")
				}
				if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://test.com" {
					t.Errorf("unexpected allowed origins %v", cfg.AllowedOrigins)
				}
			},
		},
		{
			name:    "invalid WS_READ_TIMEOUT",
			env:     map[string]string{"WS_READ_TIMEOUT": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid WS_WRITE_TIMEOUT",
			env:     map[string]string{"WS_WRITE_TIMEOUT": "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid RECONNECT_BASE_DELAY",
			env:     map[string]string{"RECONNECT_BASE_DELAY": "soon"},
			wantErr: true,
		},
		{
			name:    "max delay below base delay",
			env:     map[string]string{"RECONNECT_BASE_DELAY": "10s", "RECONNECT_MAX_DELAY": "1s"},
			wantErr: true,
		},
		{
			name:    "negative MAX_RECONNECT_ATTEMPTS",
			env:     map[string]string{"MAX_RECONNECT_ATTEMPTS": "-1"},
			wantErr: true,
		},
		{
			name:    "zero SLICE_IDLE_TTL",
			env:     map[string]string{"SLICE_IDLE_TTL": "0s"},
			wantErr: true,
		},
		{
			name:    "invalid SKIP_AUTH",
			env:     map[string]string{"SKIP_AUTH": "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment
			os.Clearenv()

			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	os.Clearenv()
	os.Setenv("HOSPITAL_ID", "from-env")
	os.Setenv("PORT", "7000")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("hospital", "", "")
	fs.String("port", "8090", "")
	fs.String("orchestrator-url", "", "")
	if err := fs.Parse([]string{"--hospital=from-flag"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HospitalID != "from-flag" {
		t.Errorf("expected flag to win, got %s", cfg.HospitalID)
	}
	// Unset flags fall back to the environment
	if cfg.Port != "7000" {
		t.Errorf("expected env port 7000, got %s", cfg.Port)
	}
	if cfg.OrchestratorURL != "ws://localhost:3002" {
		t.Errorf("expected default orchestrator url, got %s", cfg.OrchestratorURL)
	}
}

func TestWebSocketConstants(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.PongWait != cfg.WSReadTimeout {
		t.Errorf("PongWait (%v) should equal WSReadTimeout (%v)", cfg.PongWait, cfg.WSReadTimeout)
	}
	if cfg.PingPeriod >= cfg.PongWait {
		t.Errorf("PingPeriod (%v) should be less than PongWait (%v)", cfg.PingPeriod, cfg.PongWait)
	}
	if cfg.WriteWait != cfg.WSWriteTimeout {
		t.Errorf("WriteWait (%v) should equal WSWriteTimeout (%v)", cfg.WriteWait, cfg.WSWriteTimeout)
	}
	if cfg.MaxMessageSize <= 0 {
		t.Errorf("MaxMessageSize should be positive, got %d", cfg.MaxMessageSize)
	}
}

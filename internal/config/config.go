package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Local HTTP surface
	Port           string
	AllowedOrigins []string
	LogLevel       string
	Env            string
	SkipAuth       bool
	OIDCIssuer     string

	// Dashboard websocket
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Upstream services
	OrchestratorURL string
	APIBaseURL      string
	APIToken        string
	HospitalID      string

	// Orchestrator reconnect policy
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	StatusInterval time.Duration
	FetchTimeout   time.Duration
	SliceIdleTTL   time.Duration
	EventLogSize   int
}

// flagKeys maps command line flags to the environment keys they override
var flagKeys = map[string]string{
	"port":             "PORT",
	"log-level":        "LOG_LEVEL",
	"orchestrator-url": "VOICE_ORCHESTRATOR_URL",
	"api-url":          "API_BASE_URL",
	"hospital":         "HOSPITAL_ID",
}

// Load loads configuration from the environment, a .env file and, when
// given, command line flags. Set flags win over the environment.
func Load(flags ...*pflag.FlagSet) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8090")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENV", "development")
	v.SetDefault("SKIP_AUTH", "false")
	v.SetDefault("WS_READ_TIMEOUT", "60")
	v.SetDefault("WS_WRITE_TIMEOUT", "10")
	v.SetDefault("VOICE_ORCHESTRATOR_URL", "ws://localhost:3002")
	v.SetDefault("API_BASE_URL", "http://localhost:4000")
	v.SetDefault("RECONNECT_BASE_DELAY", "1s")
	v.SetDefault("RECONNECT_MAX_DELAY", "30s")
	v.SetDefault("MAX_RECONNECT_ATTEMPTS", "5")
	v.SetDefault("STATUS_INTERVAL", "1s")
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("SLICE_IDLE_TTL", "5m")
	v.SetDefault("EVENT_LOG_SIZE", "200")

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	config := &Config{
		Port:            v.GetString("PORT"),
		AllowedOrigins:  strings.Split(v.GetString("ALLOWED_ORIGINS"), ","),
		LogLevel:        v.GetString("LOG_LEVEL"),
		Env:             v.GetString("ENV"),
		OIDCIssuer:      v.GetString("OIDC_ISSUER"),
		OrchestratorURL: v.GetString("VOICE_ORCHESTRATOR_URL"),
		APIBaseURL:      strings.TrimSuffix(v.GetString("API_BASE_URL"), "/"),
		APIToken:        v.GetString("API_TOKEN"),
		HospitalID:      v.GetString("HOSPITAL_ID"),
	}

	skipAuth, err := strconv.ParseBool(v.GetString("SKIP_AUTH"))
	if err != nil {
		return nil, fmt.Errorf("invalid SKIP_AUTH: %w", err)
	}
	config.SkipAuth = skipAuth

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(v.GetString("WS_READ_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(v.GetString("WS_WRITE_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	if config.ReconnectBaseDelay, err = parseDuration(v, "RECONNECT_BASE_DELAY"); err != nil {
		return nil, err
	}
	if config.ReconnectMaxDelay, err = parseDuration(v, "RECONNECT_MAX_DELAY"); err != nil {
		return nil, err
	}
	if config.ReconnectMaxDelay < config.ReconnectBaseDelay {
		return nil, fmt.Errorf("invalid RECONNECT_MAX_DELAY: %s is below RECONNECT_BASE_DELAY %s",
			config.ReconnectMaxDelay, config.ReconnectBaseDelay)
	}

	maxAttempts, err := strconv.Atoi(v.GetString("MAX_RECONNECT_ATTEMPTS"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: %w", err)
	}
	if maxAttempts < 0 {
		return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: must not be negative")
	}
	config.MaxReconnectAttempts = maxAttempts

	if config.StatusInterval, err = parseDuration(v, "STATUS_INTERVAL"); err != nil {
		return nil, err
	}
	if config.FetchTimeout, err = parseDuration(v, "FETCH_TIMEOUT"); err != nil {
		return nil, err
	}
	if config.SliceIdleTTL, err = parseDuration(v, "SLICE_IDLE_TTL"); err != nil {
		return nil, err
	}

	eventLogSize, err := strconv.Atoi(v.GetString("EVENT_LOG_SIZE"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_LOG_SIZE: %w", err)
	}
	config.EventLogSize = eventLogSize

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// IsDev reports whether the process runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == ""
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

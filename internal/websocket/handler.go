package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/config"
	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SnapshotFunc returns the updates a dashboard receives right after it
// connects
type SnapshotFunc func() []types.ConsoleUpdate

// Handler handles dashboard WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	config   *config.Config
	upgrader websocket.Upgrader
	snapshot SnapshotFunc
	logger   zerolog.Logger
}

// NewHandler creates a new WebSocket handler. snapshot may be nil.
func NewHandler(hub *Hub, cfg *config.Config, snapshot SnapshotFunc, logger zerolog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		config:   cfg,
		snapshot: snapshot,
		logger:   logger.With().Str("component", "ws_handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin allows requests without an Origin header and origins listed
// in ALLOWED_ORIGINS
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("rejected websocket origin")
	return false
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.GetUserFromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(h.hub, conn, h.config, h.logger, claims)

	// Queue the snapshot before the hub can deliver anything newer
	if h.snapshot != nil {
		for _, update := range h.snapshot() {
			if !client.CanSee(update.HospitalID) {
				continue
			}
			data, err := json.Marshal(update)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to marshal snapshot")
				continue
			}
			select {
			case client.send <- data:
			default:
			}
		}
	}

	if !h.hub.join(client) {
		conn.Close()
		return
	}
	metrics.Get().RecordWebSocketConnect()

	client.Start()
}

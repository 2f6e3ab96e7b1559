package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// message is an encoded update and the hospital it belongs to
type message struct {
	hospitalID string
	data       []byte
}

// Hub maintains the set of dashboard clients and pushes console updates
// to the clients allowed to see them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound updates
	broadcast chan message

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect clients map
	mu sync.RWMutex

	now    func() time.Time
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		now:        time.Now,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info().Msg("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Publish encodes an update and queues it for delivery. It never blocks:
// when the queue is full the update is dropped.
func (h *Hub) Publish(update types.ConsoleUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = h.now()
	}
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(update.Type)).Msg("failed to marshal update")
		return
	}

	select {
	case h.broadcast <- message{hospitalID: update.HospitalID, data: data}:
		metrics.Get().RecordBroadcast()
	default:
		h.logger.Warn().Str("type", string(update.Type)).Msg("broadcast queue full, dropping update")
	}
}

// join registers a client. It reports false when the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters a client unless the hub has already stopped
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver sends a message to every client allowed to see its hospital
func (h *Hub) deliver(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.CanSee(msg.hospitalID) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

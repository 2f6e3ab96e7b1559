package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	defaultWriteTimeout = 10 * time.Second

	// Time allowed for the close handshake on Disconnect
	closeGracePeriod = time.Second
)

var (
	// ErrNotConnected is returned by Send when the connection is not open.
	// The command was dropped and will not be retried.
	ErrNotConnected = errors.New("orchestrator connection not open")

	// ErrInvalidEndpoint is returned for endpoints that cannot be dialed
	ErrInvalidEndpoint = errors.New("invalid orchestrator endpoint")
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Client
type Options struct {
	URL          string
	Backoff      Backoff
	WriteTimeout time.Duration
	Dialer       Dialer
	Tokens       auth.TokenSource // optional bearer token for the upgrade request
}

// Client owns the single connection to the voice orchestrator. Inbound
// frames are handed to the router on the read goroutine in arrival order.
type Client struct {
	opts   Options
	router *event.Router
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	target   string
	conn     *websocket.Conn
	cancel   context.CancelFunc
	gen      uint64 // bumped on Connect and Disconnect so stale loops exit

	writeMu sync.Mutex
}

// New creates a Client in the Idle state
func New(opts Options, router *event.Router, logger zerolog.Logger) *Client {
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:   opts,
		router: router,
		logger: logger.With().Str("component", "transport").Logger(),
		state:  StateIdle,
	}
}

// Connect starts the connection lifecycle. It is a no-op while a
// connection is open or being established, and restarts with a fresh
// attempt counter from Idle, Closed or Failed. Cancelling ctx ends the
// lifecycle like Disconnect, without clearing listeners.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateOpen, StateReconnecting, StateClosing:
		c.mu.Unlock()
		return
	}

	target, err := ResolveURL(c.opts.URL)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("url", c.opts.URL).Msg("cannot connect, staying idle")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.gen++
	gen := c.gen
	c.target = target
	c.attempts = 0
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info().Str("url", target).Msg("connecting to orchestrator")
	go c.run(runCtx, gen)
}

// Disconnect closes the connection on purpose: pending reconnects are
// cancelled, every listener is removed and the state becomes Closed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	if c.state == StateOpen {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		conn.Close()
	}

	c.router.Clear()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Info().Msg("disconnected from orchestrator")
}

// Send delivers a command if the connection is open. Otherwise the command
// is dropped with a warning and ErrNotConnected is returned.
func (c *Client) Send(cmd types.CommandType, payload any) error {
	m := metrics.Get()

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		m.RecordCommandDropped()
		c.logger.Warn().
			Str("type", string(cmd)).
			Str("state", state.String()).
			Msg("connection not open, dropping command")
		return ErrNotConnected
	}

	data, err := json.Marshal(types.OutboundMessage{Type: cmd, Payload: payload})
	if err != nil {
		m.RecordCommandDropped()
		return fmt.Errorf("marshal %s: %w", cmd, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.RecordCommandDropped()
		c.logger.Warn().Err(err).Str("type", string(cmd)).Msg("write failed, dropping command")
		return fmt.Errorf("write %s: %w", cmd, errors.Join(ErrNotConnected, err))
	}

	m.RecordCommandSent()
	c.logger.Debug().Str("type", string(cmd)).Msg("command sent")
	return nil
}

// On registers a listener for an event type
func (c *Client) On(eventType types.EventType, l event.Listener) event.ListenerID {
	return c.router.On(eventType, l)
}

// Off removes a listener registered with On
func (c *Client) Off(eventType types.EventType, id event.ListenerID) {
	c.router.Off(eventType, id)
}

// IsConnected reports whether the connection is open
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnects since the last successful open
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Status summarizes the connection for the console badge
func (c *Client) Status() types.LinkStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	endpoint := c.target
	if endpoint == "" {
		endpoint = c.opts.URL
	}
	return types.LinkStatus{
		Connected: c.state == StateOpen,
		State:     c.state.String(),
		Attempts:  c.attempts,
		Endpoint:  endpoint,
	}
}

// run drives one lifecycle: dial, read until the connection drops, back
// off, dial again. Only one run goroutine acts on the client at a time;
// a loop whose generation is outdated exits without touching state.
func (c *Client) run(ctx context.Context, gen uint64) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("dial failed")
			if !c.scheduleRetry(ctx, gen) {
				return
			}
			continue
		}

		if !c.opened(gen, conn) {
			conn.Close()
			return
		}

		// Unblock the read when the lifecycle context ends
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-readDone:
			}
		}()
		c.readLoop(conn)
		close(readDone)

		if !c.scheduleRetry(ctx, gen) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.Tokens != nil {
		token, err := c.opts.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch token: %w", err)
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// opened records a fresh connection unless the lifecycle moved on while dialing
func (c *Client) opened(gen uint64, conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateOpen
	c.mu.Unlock()

	metrics.Get().RecordConnectionOpened()
	c.logger.Info().Msg("orchestrator connection open")
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("orchestrator connection lost")
			} else {
				c.logger.Debug().Err(err).Msg("orchestrator connection closed")
			}
			conn.Close()
			return
		}
		c.router.HandleFrame(message)
	}
}

// scheduleRetry moves to Reconnecting and waits out the backoff delay, or
// to Failed once the attempt budget is spent. It returns false when the
// loop should exit.
func (c *Client) scheduleRetry(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.conn = nil

	if ctx.Err() != nil {
		c.state = StateClosed
		c.cancel = nil
		c.mu.Unlock()
		return false
	}

	if c.attempts >= c.opts.Backoff.MaxAttempts {
		c.state = StateFailed
		attempts := c.attempts
		cancel := c.cancel
		c.cancel = nil
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		metrics.Get().RecordReconnectFailure()
		c.logger.Error().Int("attempts", attempts).Msg("max reconnect attempts reached, giving up")
		return false
	}

	c.attempts++
	attempt := c.attempts
	delay := c.opts.Backoff.Delay(attempt)
	c.state = StateReconnecting
	c.mu.Unlock()

	metrics.Get().RecordReconnectAttempt()
	c.logger.Info().
		Int("attempt", attempt).
		Int("max_attempts", c.opts.Backoff.MaxAttempts).
		Dur("retry_in", delay).
		Msg("reconnecting to orchestrator")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateClosed
			c.cancel = nil
		}
		c.mu.Unlock()
		return false
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.state = StateConnecting
	return true
}

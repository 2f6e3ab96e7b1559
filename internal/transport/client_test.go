package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/auth"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// orchestrator is a fake voice orchestrator. handle is called with the
// 1-based dial number.
type orchestrator struct {
	*httptest.Server
	dials atomic.Int32
}

func newOrchestrator(t *testing.T, handle func(n int32, w http.ResponseWriter, r *http.Request)) *orchestrator {
	t.Helper()
	o := &orchestrator{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle(o.dials.Add(1), w, r)
	}))
	return o
}

// holdOpen upgrades and keeps reading until the client goes away
func holdOpen(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func refuse(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "unavailable", http.StatusServiceUnavailable)
}

func newTestClient(url string, backoff Backoff) (*Client, *event.Router) {
	logger := zerolog.Nop()
	router := event.NewRouter(logger)
	return New(Options{URL: url, Backoff: backoff}, router, logger), router
}

var fastBackoff = Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 5}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:3002", want: "ws://localhost:3002"},
		{in: "https://voice.example.com/socket", want: "wss://voice.example.com/socket"},
		{in: "ws://localhost:3002", want: "ws://localhost:3002"},
		{in: "WSS://voice.example.com", want: "wss://voice.example.com"},
		{in: " http://localhost:3002 ", want: "ws://localhost:3002"},
		{in: "ftp://localhost", wantErr: true},
		{in: "localhost:3002", wantErr: true},
		{in: "", wantErr: true},
		{in: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolveURL(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("expected ErrInvalidEndpoint, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff

	want := map[int]time.Duration{
		0: 1 * time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		4: 16 * time.Second,
		5: 30 * time.Second,
		9: 30 * time.Second,
	}
	for attempt, d := range want {
		if got := b.Delay(attempt); got != d {
			t.Errorf("attempt %d: expected %v, got %v", attempt, d, got)
		}
	}

	// Non-decreasing and capped for any sequence
	prev := time.Duration(0)
	for attempt := 0; attempt < 100; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > b.Max {
			t.Fatalf("delay %v exceeds ceiling at attempt %d", d, attempt)
		}
		prev = d
	}
}

func TestConnectDispatchesEventsAndDropsMalformedFrames(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call:started"`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"call:started","payload":{"callId":"c1"},"timestamp":"2024-05-01T10:00:00Z"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	defer client.Disconnect()

	received := make(chan types.Event, 4)
	client.On(types.EventCallStarted, func(e types.Event) error {
		received <- e
		return nil
	})

	client.Connect(context.Background())

	select {
	case e := <-received:
		if e.CallID() != "c1" {
			t.Errorf("expected callId c1, got %q", e.CallID())
		}
		if e.Timestamp != "2024-05-01T10:00:00Z" {
			t.Errorf("unexpected timestamp %q", e.Timestamp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}

	select {
	case e := <-received:
		t.Fatalf("malformed frame reached a listener: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestSendDeliversWhenOpen(t *testing.T) {
	messages := make(chan []byte, 1)
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			messages <- msg
		}
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	defer client.Disconnect()

	client.Connect(context.Background())
	waitFor(t, "open connection", client.IsConnected)

	err := client.Send(types.CommandAssignmentAccept, types.AssignmentCommand{AssignmentID: "a1", AgentID: "agent1"})
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	select {
	case raw := <-messages:
		var msg struct {
			Type    string            `json:"type"`
			Payload map[string]string `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("server got invalid json: %v", err)
		}
		if msg.Type != "assignment:accept" {
			t.Errorf("expected assignment:accept, got %s", msg.Type)
		}
		if msg.Payload["assignmentId"] != "a1" || msg.Payload["agentId"] != "agent1" {
			t.Errorf("unexpected payload %v", msg.Payload)
		}
		if _, ok := msg.Payload["reason"]; ok {
			t.Error("accept must not carry a reason")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestSendDropsWhenNotOpen(t *testing.T) {
	client, _ := newTestClient("ws://127.0.0.1:1", fastBackoff)

	err := client.Send(types.CommandAgentStatus, types.AgentStatusCommand{AgentID: "agent1", Status: types.StatusBreak})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if client.State() != StateIdle {
		t.Errorf("send must not change state, got %s", client.State())
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	// First dial succeeds and is dropped by the server, all later dials fail
	srv := newOrchestrator(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n == 1 {
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
			return
		}
		refuse(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	defer client.Disconnect()

	client.Connect(context.Background())
	waitFor(t, "failed state", func() bool { return client.State() == StateFailed })

	// The drop plus five failed redials make six consecutive failures
	if got := srv.dials.Load(); got != 6 {
		t.Errorf("expected 6 dials, got %d", got)
	}
	if got := client.Attempts(); got != 5 {
		t.Errorf("expected 5 attempts, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if got := srv.dials.Load(); got != 6 {
		t.Errorf("client kept dialing after failing: %d dials", got)
	}
	if client.IsConnected() {
		t.Error("failed client must not report connected")
	}
}

func TestAttemptsResetAfterSuccessfulOpen(t *testing.T) {
	srv := newOrchestrator(t, func(n int32, w http.ResponseWriter, r *http.Request) {
		if n <= 2 {
			refuse(w, r)
			return
		}
		holdOpen(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	defer client.Disconnect()

	client.Connect(context.Background())
	waitFor(t, "open connection", client.IsConnected)

	if got := client.Attempts(); got != 0 {
		t.Errorf("expected attempts reset to 0, got %d", got)
	}
	if got := srv.dials.Load(); got != 3 {
		t.Errorf("expected 3 dials, got %d", got)
	}
}

func TestConnectFromFailedRestarts(t *testing.T) {
	var healthy atomic.Bool
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			refuse(w, r)
			return
		}
		holdOpen(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 1})
	defer client.Disconnect()

	client.Connect(context.Background())
	waitFor(t, "failed state", func() bool { return client.State() == StateFailed })

	healthy.Store(true)
	client.Connect(context.Background())
	waitFor(t, "open connection", client.IsConnected)
}

func TestFailedReleasesLifecycleContext(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) { refuse(w, r) })
	defer srv.Close()

	dialCtxs := make(chan context.Context, 8)
	tokens := auth.TokenFunc(func(ctx context.Context) (string, error) {
		dialCtxs <- ctx
		return "", nil
	})

	router := event.NewRouter(zerolog.Nop())
	client := New(Options{
		URL:     srv.URL,
		Backoff: Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 1},
		Tokens:  tokens,
	}, router, zerolog.Nop())
	defer client.Disconnect()

	client.Connect(context.Background())
	waitFor(t, "failed state", func() bool { return client.State() == StateFailed })

	dialCtx := <-dialCtxs
	waitFor(t, "lifecycle context cancelled", func() bool { return dialCtx.Err() != nil })
}

func TestDisconnectStopsReconnects(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		refuse(w, r)
	})
	defer srv.Close()

	client, router := newTestClient(srv.URL, Backoff{Base: 20 * time.Millisecond, Max: 20 * time.Millisecond, MaxAttempts: 100})
	client.On(types.EventCallUpdated, func(types.Event) error { return nil })

	client.Connect(context.Background())
	waitFor(t, "reconnecting state", func() bool { return client.State() == StateReconnecting })

	client.Disconnect()
	if client.State() != StateClosed {
		t.Fatalf("expected closed, got %s", client.State())
	}
	if router.Count(types.EventCallUpdated) != 0 {
		t.Error("expected Disconnect to clear listeners")
	}

	time.Sleep(30 * time.Millisecond)
	before := srv.dials.Load()
	time.Sleep(100 * time.Millisecond)
	if after := srv.dials.Load(); after != before {
		t.Errorf("client dialed after Disconnect: %d -> %d", before, after)
	}
}

func TestDisconnectWhileOpenIsTerminal(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		holdOpen(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	client.Connect(context.Background())
	waitFor(t, "open connection", client.IsConnected)

	client.Disconnect()
	time.Sleep(30 * time.Millisecond)

	if client.State() != StateClosed {
		t.Errorf("expected closed, got %s", client.State())
	}
	if got := srv.dials.Load(); got != 1 {
		t.Errorf("expected no redial after intentional close, got %d dials", got)
	}
	if err := client.Send(types.CommandAgentStatus, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after Disconnect, got %v", err)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		holdOpen(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	defer client.Disconnect()

	client.Connect(context.Background())
	client.Connect(context.Background())
	waitFor(t, "open connection", client.IsConnected)
	client.Connect(context.Background())

	time.Sleep(50 * time.Millisecond)
	if got := srv.dials.Load(); got != 1 {
		t.Errorf("expected a single physical connection, got %d dials", got)
	}
}

func TestConnectWithInvalidEndpointStaysIdle(t *testing.T) {
	client, _ := newTestClient("not a url", fastBackoff)
	client.Connect(context.Background())

	if client.State() != StateIdle {
		t.Errorf("expected idle, got %s", client.State())
	}
}

func TestContextCancelClosesConnection(t *testing.T) {
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		holdOpen(w, r)
	})
	defer srv.Close()

	client, _ := newTestClient(srv.URL, fastBackoff)
	ctx, cancel := context.WithCancel(context.Background())

	client.Connect(ctx)
	waitFor(t, "open connection", client.IsConnected)

	cancel()
	waitFor(t, "closed state", func() bool { return client.State() == StateClosed })

	if got := srv.dials.Load(); got != 1 {
		t.Errorf("expected no redial after cancel, got %d dials", got)
	}
}

func TestBearerTokenOnDial(t *testing.T) {
	headers := make(chan string, 1)
	srv := newOrchestrator(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("Authorization")
		holdOpen(w, r)
	})
	defer srv.Close()

	logger := zerolog.Nop()
	client := New(Options{
		URL:     srv.URL,
		Backoff: fastBackoff,
		Tokens:  auth.StaticToken("secret"),
	}, event.NewRouter(logger), logger)
	defer client.Disconnect()

	client.Connect(context.Background())

	select {
	case h := <-headers:
		if h != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", h)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the upgrade request")
	}

	waitFor(t, "open connection", client.IsConnected)
	status := client.Status()
	if !status.Connected || status.State != "open" {
		t.Errorf("unexpected status %+v", status)
	}
}

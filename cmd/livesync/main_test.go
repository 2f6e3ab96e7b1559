package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/backend"
	"github.com/dennisdiepolder/monti/livesync/internal/config"
	"github.com/dennisdiepolder/monti/livesync/internal/storage"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("expected status ok, got %s", response["status"])
	}
	if response["service"] != "livesync" {
		t.Errorf("expected service livesync, got %s", response["service"])
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	if !names["serve"] || !names["watch"] {
		t.Errorf("expected serve and watch subcommands, got %v", names)
	}

	for _, flag := range []string{"port", "log-level", "orchestrator-url", "api-url", "hospital"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing flag %s", flag)
		}
	}
}

func newTestApp(t *testing.T, hospitalID string) *app {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/calls"):
			w.Write([]byte(`{"data":[],"total":0,"page":1,"pageSize":20}`))
		case strings.HasSuffix(r.URL.Path, "/assignments"), strings.HasSuffix(r.URL.Path, "/queues"):
			w.Write([]byte(`[]`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Port:            "0",
		AllowedOrigins:  []string{"http://localhost:3000"},
		Env:             "development",
		SkipAuth:        true,
		PongWait:        time.Second,
		PingPeriod:      900 * time.Millisecond,
		WriteWait:       time.Second,
		MaxMessageSize:  512,
		OrchestratorURL: "ws://127.0.0.1:1",
		APIBaseURL:      upstream.URL,
		HospitalID:      hospitalID,
		StatusInterval:  time.Second,
		FetchTimeout:    time.Second,
		SliceIdleTTL:    time.Minute,
		EventLogSize:    10,
	}

	a := newApp(cfg, storage.NewNoopStore(), zerolog.Nop())
	t.Cleanup(a.close)
	return a
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppRoutes(t *testing.T) {
	a := newTestApp(t, "h1")
	routes := a.routes()

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/status", "", http.StatusOK},
		{http.MethodGet, "/api/slices", "", http.StatusOK},
		{http.MethodGet, "/api/events", "", http.StatusOK},
		{http.MethodGet, "/api/calls", "", http.StatusOK},
		{http.MethodGet, "/api/queues", "", http.StatusOK},
		{http.MethodGet, "/api/journal", "", http.StatusOK},
		{http.MethodPost, "/api/agents/agent1/session", "", http.StatusCreated},
		// The orchestrator link is not open, so the command is not delivered
		{http.MethodPost, "/api/agents/agent1/status", `{"status":"BUSY"}`, http.StatusAccepted},
		{http.MethodPost, "/api/assignments/a1/accept", `{"agentId":"agent1"}`, http.StatusAccepted},
		{http.MethodGet, "/api/agents/agent2/session", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := request(t, routes, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body)
			}
		})
	}
}

func TestAppWithoutHospital(t *testing.T) {
	a := newTestApp(t, "")

	rec := request(t, a.routes(), http.MethodGet, "/api/calls", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestAppEventsFlowToComponents(t *testing.T) {
	a := newTestApp(t, "h1")

	a.router.HandleFrame([]byte(`{"type":"call:started","payload":{"callId":"c1"}}`))
	a.router.HandleFrame([]byte(`{"type":"call:started","payload":{"callId":"c2"}}`))
	a.router.HandleFrame([]byte(`{"type":"call:completed","payload":{"callId":"c1"}}`))

	if a.counter.Count() != 1 {
		t.Errorf("expected 1 live call, got %d", a.counter.Count())
	}
	if a.events.Size() != 3 {
		t.Errorf("expected 3 logged events, got %d", a.events.Size())
	}

	snapshot := a.snapshot()
	if len(snapshot) < 2 {
		t.Fatalf("expected link status and live count in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Type != types.UpdateLinkStatus || snapshot[1].Type != types.UpdateLiveCount {
		t.Errorf("unexpected snapshot order %s, %s", snapshot[0].Type, snapshot[1].Type)
	}
	if n, ok := snapshot[1].Data.(int); !ok || n != 1 {
		t.Errorf("expected live count 1, got %v", snapshot[1].Data)
	}
	status := a.ticker.LinkStatus()
	if status.HospitalID != "h1" || status.LiveCalls != 1 || status.Connected {
		t.Errorf("unexpected link status %+v", status)
	}
}

func TestReadyHandler(t *testing.T) {
	a := newTestApp(t, "h1")
	routes := a.routes()

	rec := request(t, routes, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ready" || body["orchestrator"] == "" {
		t.Errorf("unexpected body %v", body)
	}

	a.api = backend.NewClient("http://127.0.0.1:1", nil)
	rec = request(t, routes, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with the API down, got %d", rec.Code)
	}
}

func TestUnmountIsBroadcast(t *testing.T) {
	a := newTestApp(t, "h1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.hub.Run(ctx)

	server := httptest.NewServer(a.routes())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for a.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	request(t, server.Config.Handler, http.MethodPost, "/api/agents/agent1/session", "")
	request(t, server.Config.Handler, http.MethodDelete, "/api/agents/agent1/session", "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no removal update received: %v", err)
		}
		var update types.ConsoleUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if update.Type == types.UpdateAgentSessionRemoved {
			if update.HospitalID != "h1" {
				t.Errorf("expected h1 removal, got %+v", update)
			}
			return
		}
	}
}

func TestSweepIntervalFloor(t *testing.T) {
	a := newTestApp(t, "h1")
	if got := a.sweepInterval(); got != 30*time.Second {
		t.Errorf("expected half the idle ttl, got %v", got)
	}
	a.cfg.SliceIdleTTL = time.Second
	if got := a.sweepInterval(); got != time.Second {
		t.Errorf("expected 1s floor, got %v", got)
	}
}

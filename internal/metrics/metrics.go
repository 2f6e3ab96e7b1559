package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Inbound frame metrics
	FramesReceivedTotal  int64
	MalformedFramesTotal int64
	EventsDispatched     map[string]int64 // event type -> count
	ListenerErrorsTotal  int64

	// Orchestrator connection metrics
	ConnectionsOpenedTotal int64
	ReconnectAttemptsTotal int64
	ReconnectFailuresTotal int64
	CommandsSentTotal      int64
	CommandsDroppedTotal   int64

	// Cache metrics
	InvalidationsTotal int64
	RefetchesTotal     int64
	RefetchErrorsTotal int64

	// Dashboard websocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	UpdatesBroadcastTotal        int64
	activeConnections            int64

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates an empty metrics set
func New() *Metrics {
	return &Metrics{
		EventsDispatched:  make(map[string]int64),
		httpRequestsTotal: make(map[string]map[int]int64),
		startTime:         time.Now(),
	}
}

// RecordFrameReceived increments the inbound frame counter
func (m *Metrics) RecordFrameReceived() {
	m.mu.Lock()
	m.FramesReceivedTotal++
	m.mu.Unlock()
}

// RecordMalformedFrame increments the dropped frame counter
func (m *Metrics) RecordMalformedFrame() {
	m.mu.Lock()
	m.MalformedFramesTotal++
	m.mu.Unlock()
}

// RecordDispatch counts a decoded event by type
func (m *Metrics) RecordDispatch(eventType string) {
	m.mu.Lock()
	m.EventsDispatched[eventType]++
	m.mu.Unlock()
}

// RecordListenerError increments the listener failure counter
func (m *Metrics) RecordListenerError() {
	m.mu.Lock()
	m.ListenerErrorsTotal++
	m.mu.Unlock()
}

// RecordConnectionOpened counts a successful orchestrator connect
func (m *Metrics) RecordConnectionOpened() {
	m.mu.Lock()
	m.ConnectionsOpenedTotal++
	m.mu.Unlock()
}

// RecordReconnectAttempt counts a scheduled reconnect
func (m *Metrics) RecordReconnectAttempt() {
	m.mu.Lock()
	m.ReconnectAttemptsTotal++
	m.mu.Unlock()
}

// RecordReconnectFailure counts a transition to the failed state
func (m *Metrics) RecordReconnectFailure() {
	m.mu.Lock()
	m.ReconnectFailuresTotal++
	m.mu.Unlock()
}

// RecordCommandSent counts a delivered outbound command
func (m *Metrics) RecordCommandSent() {
	m.mu.Lock()
	m.CommandsSentTotal++
	m.mu.Unlock()
}

// RecordCommandDropped counts an outbound command that was not delivered
func (m *Metrics) RecordCommandDropped() {
	m.mu.Lock()
	m.CommandsDroppedTotal++
	m.mu.Unlock()
}

// RecordInvalidations adds n invalidated slices
func (m *Metrics) RecordInvalidations(n int) {
	m.mu.Lock()
	m.InvalidationsTotal += int64(n)
	m.mu.Unlock()
}

// RecordRefetch counts a background refetch and whether it failed
func (m *Metrics) RecordRefetch(err error) {
	m.mu.Lock()
	m.RefetchesTotal++
	if err != nil {
		m.RefetchErrorsTotal++
	}
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordBroadcast counts an update pushed to dashboards
func (m *Metrics) RecordBroadcast() {
	m.mu.Lock()
	m.UpdatesBroadcastTotal++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// GetActiveConnections returns current dashboard connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		write("livesync_uptime_seconds", time.Since(m.startTime).Seconds())

		write("livesync_frames_received_total", m.FramesReceivedTotal)
		write("livesync_frames_malformed_total", m.MalformedFramesTotal)
		write("livesync_listener_errors_total", m.ListenerErrorsTotal)
		for eventType, count := range m.EventsDispatched {
			write("livesync_events_dispatched_total", count, "type", eventType)
		}

		write("livesync_connections_opened_total", m.ConnectionsOpenedTotal)
		write("livesync_reconnect_attempts_total", m.ReconnectAttemptsTotal)
		write("livesync_reconnect_failures_total", m.ReconnectFailuresTotal)
		write("livesync_commands_sent_total", m.CommandsSentTotal)
		write("livesync_commands_dropped_total", m.CommandsDroppedTotal)

		write("livesync_cache_invalidations_total", m.InvalidationsTotal)
		write("livesync_cache_refetches_total", m.RefetchesTotal)
		write("livesync_cache_refetch_errors_total", m.RefetchErrorsTotal)

		write("livesync_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("livesync_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("livesync_websocket_active_connections", m.activeConnections)
		write("livesync_updates_broadcast_total", m.UpdatesBroadcastTotal)

		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("livesync_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}

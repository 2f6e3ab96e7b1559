package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// ErrMalformedFrame is returned by Decode for frames that cannot be dispatched
var ErrMalformedFrame = errors.New("malformed frame")

// Listener handles one event. A returned error is logged and does not
// affect other listeners.
type Listener func(types.Event) error

// ListenerID identifies a registered listener so it can be removed again
type ListenerID uint64

// Router maps inbound frames to the listeners registered for their type
type Router struct {
	mu        sync.RWMutex
	listeners map[types.EventType]map[ListenerID]Listener
	nextID    ListenerID
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRouter creates a router with no listeners
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		listeners: make(map[types.EventType]map[ListenerID]Listener),
		logger:    logger.With().Str("component", "event_router").Logger(),
		now:       time.Now,
	}
}

// On registers a listener for exactly one event type
func (r *Router) On(eventType types.EventType, l Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	set, ok := r.listeners[eventType]
	if !ok {
		set = make(map[ListenerID]Listener)
		r.listeners[eventType] = set
	}
	set[id] = l
	return id
}

// Off removes a single listener. Unknown ids are ignored.
func (r *Router) Off(eventType types.EventType, id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[eventType]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.listeners, eventType)
	}
}

// OnTypes registers l for every given type and returns a func that removes
// all of those registrations
func (r *Router) OnTypes(eventTypes []types.EventType, l Listener) func() {
	ids := make([]ListenerID, len(eventTypes))
	for i, et := range eventTypes {
		ids[i] = r.On(et, l)
	}
	return func() {
		for i, et := range eventTypes {
			r.Off(et, ids[i])
		}
	}
}

// Clear removes every listener
func (r *Router) Clear() {
	r.mu.Lock()
	r.listeners = make(map[types.EventType]map[ListenerID]Listener)
	r.mu.Unlock()
}

// Count returns the number of listeners registered for a type
func (r *Router) Count(eventType types.EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[eventType])
}

// Decode parses a raw frame of the form {type, payload, timestamp}
func (r *Router) Decode(raw []byte) (types.Event, error) {
	var frame struct {
		Type      types.EventType `json:"type"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp string          `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return types.Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Type == "" {
		return types.Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if string(frame.Payload) == "null" {
		frame.Payload = nil
	}

	return types.Event{
		Type:       frame.Type,
		Payload:    frame.Payload,
		Timestamp:  frame.Timestamp,
		ReceivedAt: r.now(),
	}, nil
}

// HandleFrame decodes and dispatches one raw frame. Malformed frames are
// logged and dropped.
func (r *Router) HandleFrame(raw []byte) {
	m := metrics.Get()
	m.RecordFrameReceived()

	evt, err := r.Decode(raw)
	if err != nil {
		m.RecordMalformedFrame()
		r.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
		return
	}

	m.RecordDispatch(string(evt.Type))
	r.Dispatch(evt)
}

// Dispatch invokes every listener registered for the event's type, in
// registration order. It returns the number of listeners that failed.
func (r *Router) Dispatch(evt types.Event) int {
	r.mu.RLock()
	set := r.listeners[evt.Type]
	ids := make([]ListenerID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Listener, len(ids))
	for i, id := range ids {
		snapshot[i] = set[id]
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		r.logger.Debug().Str("event_type", string(evt.Type)).Msg("no listeners for event")
		return 0
	}

	failed := 0
	for i, l := range snapshot {
		if err := r.invoke(l, evt); err != nil {
			failed++
			metrics.Get().RecordListenerError()
			r.logger.Error().
				Err(err).
				Str("event_type", string(evt.Type)).
				Uint64("listener_id", uint64(ids[i])).
				Msg("listener failed")
		}
	}
	return failed
}

func (r *Router) invoke(l Listener, evt types.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("listener panic: %v", rec)
		}
	}()
	return l(evt)
}

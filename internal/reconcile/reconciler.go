package reconcile

import (
	"sync"

	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/event"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
)

// Invalidator marks cache slices stale. QueryCache implements it.
type Invalidator interface {
	Invalidate(prefix string) []string
}

// Target derives the slice to invalidate from an event. ok is false when
// the event lacks the identifier the slice needs.
type Target func(hospitalID string, evt types.Event) (key string, ok bool)

func callsList(h string, _ types.Event) (string, bool) { return cache.CallsList(h), true }
func callAnalytics(h string, _ types.Event) (string, bool) { return cache.CallAnalytics(h), true }
func assignments(h string, _ types.Event) (string, bool) { return cache.Assignments(h), true }
func queues(h string, _ types.Event) (string, bool) { return cache.Queues(h), true }

func callDetail(h string, evt types.Event) (string, bool) {
	id := evt.CallID()
	if id == "" {
		return "", false
	}
	return cache.CallDetail(h, id), true
}

func agentSession(h string, evt types.Event) (string, bool) {
	id := evt.AgentID()
	if id == "" {
		return "", false
	}
	return cache.AgentSession(h, id), true
}

// Routes maps each inbound event type to the slices it makes stale
var Routes = map[types.EventType][]Target{
	types.EventCallStarted:             {callsList, callAnalytics},
	types.EventCallUpdated:             {callDetail},
	types.EventCallCompleted:           {callsList, callAnalytics},
	types.EventCallError:               {callDetail},
	types.EventAssignmentNew:           {assignments},
	types.EventAssignmentStatusChanged: {assignments},
	types.EventCallTransferredIn:       {assignments},
	types.EventCallTransferredOut:      {assignments},
	types.EventQueueUpdated:            {queues},
	types.EventAgentStatusUpdated:      {agentSession},
}

// RoutedTypes returns the event types that have a route
func RoutedTypes() []types.EventType {
	out := make([]types.EventType, 0, len(Routes))
	for _, et := range types.InboundEventTypes {
		if _, ok := Routes[et]; ok {
			out = append(out, et)
		}
	}
	return out
}

// Reconciler invalidates the cache slices an event affects. It never
// writes values; refetching is left to the cache.
type Reconciler struct {
	inv      Invalidator
	hospital string
	mu       sync.RWMutex
	logger   zerolog.Logger
}

// New creates a reconciler scoped to hospitalID. An empty hospital
// disables invalidation until SetHospital is called.
func New(inv Invalidator, hospitalID string, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		inv:      inv,
		hospital: hospitalID,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetHospital changes the hospital scope
func (r *Reconciler) SetHospital(hospitalID string) {
	r.mu.Lock()
	r.hospital = hospitalID
	r.mu.Unlock()
}

// Hospital returns the current hospital scope
func (r *Reconciler) Hospital() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hospital
}

// Attach registers the reconciler on every routed event type and returns
// a func that removes those listeners.
func (r *Reconciler) Attach(router *event.Router) func() {
	return router.OnTypes(RoutedTypes(), r.Handle)
}

// Handle is the event.Listener form of Apply
func (r *Reconciler) Handle(evt types.Event) error {
	r.Apply(evt)
	return nil
}

// Apply invalidates the slices routed for evt and returns the keys of the
// registered slices that were marked stale.
func (r *Reconciler) Apply(evt types.Event) []string {
	hospital := r.Hospital()
	if hospital == "" {
		r.logger.Debug().Str("type", string(evt.Type)).Msg("no hospital selected, skipping invalidation")
		return nil
	}

	targets, ok := Routes[evt.Type]
	if !ok {
		return nil
	}

	var stale []string
	for _, target := range targets {
		key, ok := target(hospital, evt)
		if !ok {
			r.logger.Debug().Str("type", string(evt.Type)).Msg("event lacks identifier for slice")
			continue
		}
		stale = append(stale, r.inv.Invalidate(key)...)
	}
	return stale
}

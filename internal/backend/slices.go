package backend

import (
	"context"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/cache"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
)

// AnalyticsWindow is the date range the analytics slice covers
const AnalyticsWindow = 7 * 24 * time.Hour

// Slices binds the API client to the query cache. Hospital-wide slices
// are registered up front; per-call and per-agent slices on first read,
// as transient slices the cache drops once idle.
type Slices struct {
	cache    *cache.QueryCache
	client   *Client
	hospital string
	now      func() time.Time
}

// NewSlices creates the binding for one hospital
func NewSlices(qc *cache.QueryCache, client *Client, hospitalID string) *Slices {
	return &Slices{
		cache:    qc,
		client:   client,
		hospital: hospitalID,
		now:      time.Now,
	}
}

// Hospital returns the bound hospital
func (s *Slices) Hospital() string { return s.hospital }

// RegisterDefaults registers the call list, analytics, assignments and
// queues slices. It does nothing without a hospital.
func (s *Slices) RegisterDefaults() {
	h := s.hospital
	if h == "" {
		return
	}

	s.cache.Register(cache.CallsList(h), func(ctx context.Context) (any, error) {
		return s.client.ListCalls(ctx, h, CallFilter{})
	})
	s.cache.Register(cache.CallAnalytics(h), func(ctx context.Context) (any, error) {
		end := s.now()
		return s.client.GetAnalytics(ctx, h, end.Add(-AnalyticsWindow), end)
	})
	s.cache.Register(cache.Assignments(h), func(ctx context.Context) (any, error) {
		return s.client.ListAssignments(ctx, h)
	})
	s.cache.Register(cache.Queues(h), func(ctx context.Context) (any, error) {
		return s.client.ListQueues(ctx, h)
	})
}

// Calls reads the call list slice
func (s *Slices) Calls(ctx context.Context) (*types.CallPage, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	return cache.Fetch[*types.CallPage](ctx, s.cache, cache.CallsList(s.hospital))
}

// Call reads the detail slice of one call
func (s *Slices) Call(ctx context.Context, callID string) (*types.Call, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	h := s.hospital
	key := cache.CallDetail(h, callID)
	s.cache.RegisterTransient(key, func(ctx context.Context) (any, error) {
		return s.client.GetCall(ctx, h, callID)
	})
	return cache.Fetch[*types.Call](ctx, s.cache, key)
}

// Analytics reads the analytics slice
func (s *Slices) Analytics(ctx context.Context) (*types.CallAnalytics, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	return cache.Fetch[*types.CallAnalytics](ctx, s.cache, cache.CallAnalytics(s.hospital))
}

// Assignments reads the assignment list slice
func (s *Slices) Assignments(ctx context.Context) ([]types.Assignment, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	return cache.Fetch[[]types.Assignment](ctx, s.cache, cache.Assignments(s.hospital))
}

// AgentSession reads the server session slice of one agent
func (s *Slices) AgentSession(ctx context.Context, agentID string) (*types.RemoteAgentSession, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	key := cache.AgentSession(s.hospital, agentID)
	s.cache.RegisterTransient(key, func(ctx context.Context) (any, error) {
		return s.client.GetAgentSession(ctx, agentID)
	})
	return cache.Fetch[*types.RemoteAgentSession](ctx, s.cache, key)
}

// Queues reads the queue list slice
func (s *Slices) Queues(ctx context.Context) ([]types.Queue, error) {
	if s.hospital == "" {
		return nil, ErrNoHospital
	}
	return cache.Fetch[[]types.Queue](ctx, s.cache, cache.Queues(s.hospital))
}

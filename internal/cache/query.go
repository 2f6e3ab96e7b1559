package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/livesync/internal/metrics"
	"github.com/dennisdiepolder/monti/livesync/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownSlice is returned for reads of a slice nobody registered
var ErrUnknownSlice = errors.New("unknown cache slice")

// Fetcher loads the current value of a slice from the backend
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	key     string
	fetcher Fetcher

	value    any
	hasValue bool
	stale    bool
	fetching bool
	again    bool // invalidated while a fetch was in flight
	lastErr  error

	// gen counts invalidations; a read fetch only stores its result if
	// no invalidation landed while it ran
	gen       uint64
	transient bool
	lastRead  time.Time

	invalidations int
	fetches       int
	fetchedAt     time.Time
	invalidatedAt time.Time
}

func (e *entry) info() types.SliceInfo {
	info := types.SliceInfo{
		Key:           e.key,
		Stale:         e.stale,
		Fetching:      e.fetching,
		HasValue:      e.hasValue,
		Invalidations: e.invalidations,
		Fetches:       e.fetches,
	}
	if !e.fetchedAt.IsZero() {
		t := e.fetchedAt
		info.FetchedAt = &t
	}
	if !e.invalidatedAt.IsZero() {
		t := e.invalidatedAt
		info.InvalidatedAt = &t
	}
	if e.lastErr != nil {
		info.LastError = e.lastErr.Error()
	}
	return info
}

// QueryCache holds the console's server-derived read data as keyed
// slices. Reads fetch on demand; invalidation marks slices stale and
// refetches them in the background.
type QueryCache struct {
	mu       sync.Mutex
	slices   map[string]*entry
	hooks    []func(types.SliceInfo)
	group    singleflight.Group
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isClosed bool
}

// NewQueryCache creates an empty cache. fetchTimeout bounds each fetch.
func NewQueryCache(fetchTimeout time.Duration, logger zerolog.Logger) *QueryCache {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &QueryCache{
		slices:  make(map[string]*entry),
		timeout: fetchTimeout,
		logger:  logger.With().Str("component", "query_cache").Logger(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register makes a slice known to the cache. Registering an existing key
// replaces its fetcher and keeps the cached value.
func (c *QueryCache) Register(key string, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.slices[key]; ok {
		e.fetcher = fetch
		return
	}
	c.slices[key] = &entry{key: key, fetcher: fetch, stale: true, lastRead: c.now()}
}

// RegisterTransient registers a slice that Sweep may drop once nobody has
// read it for a while. Per-call and per-agent slices are transient.
func (c *QueryCache) RegisterTransient(key string, fetch Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.slices[key]; ok {
		e.fetcher = fetch
		return
	}
	c.slices[key] = &entry{key: key, fetcher: fetch, stale: true, transient: true, lastRead: c.now()}
}

// Unregister forgets a slice and its value
func (c *QueryCache) Unregister(key string) {
	c.mu.Lock()
	delete(c.slices, key)
	c.mu.Unlock()
}

// OnUpdate registers a hook called after every background refetch
func (c *QueryCache) OnUpdate(fn func(types.SliceInfo)) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Get returns the slice value, fetching it first when it is stale or has
// never been loaded. Concurrent loads of one key share a single fetch.
func (c *QueryCache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	e, ok := c.slices[key]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlice, key)
	}
	e.lastRead = c.now()
	if e.hasValue && !e.stale {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	fetch := e.fetcher
	gen := e.gen
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) { return c.load(key, fetch) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		c.mu.Lock()
		if e, ok := c.slices[key]; ok && !e.fetching && e.gen == gen {
			c.storeLocked(e, res.Val, res.Err)
		}
		c.mu.Unlock()
		return res.Val, res.Err
	}
}

// Invalidate marks every slice at or below prefix stale and schedules a
// background refetch for each. A slice already being refetched is fetched
// once more after the current fetch. It returns the matched keys.
func (c *QueryCache) Invalidate(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	now := c.now()
	var matched []string
	for k, e := range c.slices {
		if !Matches(prefix, k) {
			continue
		}
		matched = append(matched, k)
		e.stale = true
		e.gen++
		e.invalidations++
		e.invalidatedAt = now

		if e.fetching {
			e.again = true
			continue
		}
		c.startRefetchLocked(e)
	}
	sort.Strings(matched)

	if len(matched) > 0 {
		metrics.Get().RecordInvalidations(len(matched))
		c.logger.Debug().Str("prefix", prefix).Strs("keys", matched).Msg("slices invalidated")
	}
	return matched
}

// IsStale reports whether a registered slice is stale
func (c *QueryCache) IsStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.slices[key]
	return ok && e.stale
}

// Peek returns the cached value without fetching
func (c *QueryCache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.slices[key]
	if !ok || !e.hasValue {
		return nil, false
	}
	return e.value, true
}

// Info describes one slice
func (c *QueryCache) Info(key string) (types.SliceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.slices[key]
	if !ok {
		return types.SliceInfo{}, false
	}
	return e.info(), true
}

// Slices describes every registered slice, sorted by key
func (c *QueryCache) Slices() []types.SliceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.SliceInfo, 0, len(c.slices))
	for _, e := range c.slices {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sweep unregisters transient slices that have not been read for idle
// and are not being fetched. It returns the dropped keys.
func (c *QueryCache) Sweep(idle time.Duration) []string {
	c.mu.Lock()
	cutoff := c.now().Add(-idle)
	var expired []string
	for k, e := range c.slices {
		if e.transient && !e.fetching && e.lastRead.Before(cutoff) {
			expired = append(expired, k)
		}
	}
	c.mu.Unlock()

	sort.Strings(expired)
	for _, k := range expired {
		c.Unregister(k)
	}
	if len(expired) > 0 {
		c.logger.Debug().Strs("keys", expired).Dur("idle", idle).Msg("idle slices dropped")
	}
	return expired
}

// StartEviction sweeps idle transient slices every interval until ctx ends
func (c *QueryCache) StartEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(idle)
		}
	}
}

// Close stops scheduling refetches and waits for running ones
func (c *QueryCache) Close() {
	c.mu.Lock()
	c.isClosed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *QueryCache) startRefetchLocked(e *entry) {
	if e.fetcher == nil {
		return
	}
	e.fetching = true
	c.wg.Add(1)
	go c.refetch(e.key)
}

func (c *QueryCache) refetch(key string) {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		e, ok := c.slices[key]
		if !ok {
			c.mu.Unlock()
			return
		}
		fetch := e.fetcher
		e.again = false
		c.mu.Unlock()

		// Never join a read fetch that started before the invalidation
		c.group.Forget(key)
		v, err, _ := c.group.Do(key, func() (any, error) { return c.load(key, fetch) })
		metrics.Get().RecordRefetch(err)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("refetch failed")
		}

		c.mu.Lock()
		e, ok = c.slices[key]
		if !ok {
			c.mu.Unlock()
			return
		}
		c.storeLocked(e, v, err)
		if e.again && c.ctx.Err() == nil {
			e.stale = true
			c.mu.Unlock()
			continue
		}
		e.fetching = false
		e.again = false
		info := e.info()
		hooks := append([]func(types.SliceInfo){}, c.hooks...)
		c.mu.Unlock()

		for _, h := range hooks {
			h(info)
		}
		return
	}
}

func (c *QueryCache) load(key string, fetch Fetcher) (any, error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: %s has no fetcher", ErrUnknownSlice, key)
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	return fetch(ctx)
}

// storeLocked records a fetch result. Failed fetches keep the previous
// value and leave the slice stale.
func (c *QueryCache) storeLocked(e *entry, v any, err error) {
	e.fetches++
	if err != nil {
		e.lastErr = err
		return
	}
	e.value = v
	e.hasValue = true
	e.stale = false
	e.lastErr = nil
	e.fetchedAt = c.now()
}

// Fetch reads a slice and asserts its type
func Fetch[T any](ctx context.Context, c *QueryCache, key string) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("slice %s holds %T", key, v)
	}
	return t, nil
}

// Package style resolves per-sender display overrides. Every write path
// goes through one Cache so no reader can observe a value older than the
// newest write it could have seen.
package style

import (
	"sync"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/metrics"
)

// DefaultFreshness is how long a locally known value beats a fetched one.
const DefaultFreshness = 30 * time.Second

// Source identifies where a cached value came from.
type Source int

const (
	SourceFetch Source = iota
	SourceLocal
	SourcePush
	SourceBroadcast
)

func (s Source) String() string {
	switch s {
	case SourceFetch:
		return "fetch"
	case SourceLocal:
		return "local"
	case SourcePush:
		return "push"
	case SourceBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// authoritative sources are writes the user or the server pushed at us, as
// opposed to a read we issued ourselves.
func (s Source) authoritative() bool { return s != SourceFetch }

type entry struct {
	style  *domain.StyleOverride // nil: sender uses the default style
	source Source
	at     time.Time
}

// ChangeFunc is called after the resolved style of a sender changed.
type ChangeFunc func(senderID string, style *domain.StyleOverride)

// Cache is the per-engine style override cache.
type Cache struct {
	freshness time.Duration
	now       func() time.Time

	mu        sync.RWMutex
	entries   map[string]entry
	listeners map[uint64]ChangeFunc
	nextID    uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithFreshness sets the precedence window of authoritative writes.
func WithFreshness(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		freshness: DefaultFreshness,
		now:       time.Now,
		entries:   make(map[string]entry),
		listeners: make(map[uint64]ChangeFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached style of senderID. ok is false when nothing is
// cached; a nil style with ok true means the sender is known to have none.
func (c *Cache) Get(senderID string) (style *domain.StyleOverride, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[senderID]
	return e.style.Clone(), ok
}

// Set records an authoritative write and notifies listeners if the value
// changed. SourceFetch is accepted but behaves like Prime.
func (c *Cache) Set(senderID string, style *domain.StyleOverride, src Source) {
	if !src.authoritative() {
		c.Prime(senderID, style)
		return
	}
	style = normalize(senderID, style)

	c.mu.Lock()
	prev, had := c.entries[senderID]
	c.entries[senderID] = entry{style: style, source: src, at: c.now()}
	changed := !had || !equal(prev.style, style)
	c.mu.Unlock()
	metrics.Inc(metrics.StyleWrites, src.String())

	if changed {
		c.notify(senderID, style)
	}
}

// Resolve returns the style to display for senderID given a value fetched
// from the backing store. A fresh authoritative entry wins over fetched;
// otherwise fetched is primed into the cache and returned.
func (c *Cache) Resolve(senderID string, fetched *domain.StyleOverride) *domain.StyleOverride {
	c.Prime(senderID, fetched)
	s, _ := c.Get(senderID)
	return s
}

// Prime stores a fetched value when it may not override newer knowledge:
// on a miss, over an earlier fetch, or over an authoritative write older
// than the freshness window. It reports whether the cache was written.
func (c *Cache) Prime(senderID string, fetched *domain.StyleOverride) bool {
	fetched = normalize(senderID, fetched)

	c.mu.Lock()
	prev, had := c.entries[senderID]
	if had && prev.source.authoritative() && c.now().Sub(prev.at) <= c.freshness {
		c.mu.Unlock()
		return false
	}
	c.entries[senderID] = entry{style: fetched, source: SourceFetch, at: c.now()}
	changed := !had || !equal(prev.style, fetched)
	c.mu.Unlock()
	metrics.Inc(metrics.StyleWrites, SourceFetch.String())

	if changed {
		c.notify(senderID, fetched)
	}
	return true
}

// Fresh reports whether senderID has an authoritative entry inside the
// freshness window, meaning a fetch would not change it.
func (c *Cache) Fresh(senderID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[senderID]
	return ok && e.source.authoritative() && c.now().Sub(e.at) <= c.freshness
}

// OnChange registers fn and returns a function that removes it. Listeners
// run on the writer's goroutine after the cache lock is released.
func (c *Cache) OnChange(fn ChangeFunc) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Clear drops every entry. Listeners are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of cached senders.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) notify(senderID string, style *domain.StyleOverride) {
	c.mu.RLock()
	fns := make([]ChangeFunc, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(senderID, style.Clone())
	}
}

// normalize copies s, forces its SenderID and maps an all-default override
// to nil.
func normalize(senderID string, s *domain.StyleOverride) *domain.StyleOverride {
	if s == nil || (s.BubbleColor == "" && s.Font == "") {
		return nil
	}
	c := s.Clone()
	c.SenderID = senderID
	return c
}

func equal(a, b *domain.StyleOverride) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

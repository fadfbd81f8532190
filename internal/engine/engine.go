// Package engine wires the sync components into the surface the UI layer
// uses. An Engine corresponds to one browser tab: it owns the subscription
// registry and style cache shared by every scope handle opened in that tab.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/optimistic"
	"github.com/nfrund/chatsync/internal/relay"
	"github.com/nfrund/chatsync/internal/scope"
	"github.com/nfrund/chatsync/internal/sender"
	"github.com/nfrund/chatsync/internal/style"
	"github.com/nfrund/chatsync/internal/subscription"
)

// Dependencies are the external services an Engine consumes.
type Dependencies struct {
	Messages domain.MessageRepository
	Inserts  domain.InsertSubscriber
	Styles   domain.StyleRepository
	Profiles domain.ProfileRepository
	// Blocks is optional; without it nobody is blocked.
	Blocks domain.BlockChecker
	// Relay is optional; without it sibling engines are not notified.
	Relay *relay.Relay
}

func (d Dependencies) validate() error {
	var errs []error
	if d.Messages == nil {
		errs = append(errs, errors.New("messages repository is required"))
	}
	if d.Inserts == nil {
		errs = append(errs, errors.New("insert subscriber is required"))
	}
	if d.Styles == nil {
		errs = append(errs, errors.New("style repository is required"))
	}
	if d.Profiles == nil {
		errs = append(errs, errors.New("profile repository is required"))
	}
	return errors.Join(errs...)
}

type options struct {
	reconcileWindow time.Duration
	styleFreshness  time.Duration
	historyLimit    int
	pollInterval    time.Duration
	maxPollInterval time.Duration
	watchStyles     bool
	blockTTL        time.Duration
}

// Option configures an Engine.
type Option func(*options)

// WithReconcileWindow sets how long an optimistic echo may wait for its
// confirmed counterpart.
func WithReconcileWindow(d time.Duration) Option { return func(o *options) { o.reconcileWindow = d } }

// WithStyleFreshness sets how long a local or pushed style beats a fetch.
func WithStyleFreshness(d time.Duration) Option { return func(o *options) { o.styleFreshness = d } }

// WithHistoryLimit sets how many recent messages a bulk load fetches.
func WithHistoryLimit(n int) Option { return func(o *options) { o.historyLimit = n } }

// WithPollInterval sets the first delay of the polling fallback used while
// a scope has no push subscription. Later delays grow up to max.
func WithPollInterval(base, max time.Duration) Option {
	return func(o *options) {
		o.pollInterval = base
		if max >= base {
			o.maxPollInterval = max
		}
	}
}

// WithBlockTTL sets how long a block-list answer is reused for pushes.
// Bulk loads always ask again.
func WithBlockTTL(d time.Duration) Option { return func(o *options) { o.blockTTL = d } }

// WithoutStyleWatch skips the push subscription on the style table.
func WithoutStyleWatch() Option { return func(o *options) { o.watchStyles = false } }

// OpenRequest identifies the scope to open and who is looking at it.
type OpenRequest struct {
	RoomID   string
	StreamID string
	Viewer   domain.Identity
	// OwnerID is the scope owner (room host or streamer), used for the
	// block check on send. Empty when the scope has none.
	OwnerID string
}

// Stats summarizes an engine.
type Stats struct {
	ID            string             `json:"id"`
	Handles       int                `json:"handles"`
	Subscriptions subscription.Stats `json:"subscriptions"`
	CachedStyles  int                `json:"cachedStyles"`
}

// Engine is the per-tab sync engine. It is safe for concurrent use.
type Engine struct {
	id       string
	deps     Dependencies
	opts     options
	registry *subscription.Registry
	styles   *style.Service
	pipeline *sender.Pipeline
	blocks   *blockCache
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	handles        map[string]*ScopeHandle
	lookups        map[string]struct{}
	closed         bool
	styleWatch     domain.SubscriptionHandle
	cancelOnChange func()
}

// New creates an engine and starts its relay and style subscriptions. The
// engine lives until Close or until ctx is canceled.
func New(ctx context.Context, deps Dependencies, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	o := options{
		reconcileWindow: optimistic.DefaultWindow,
		styleFreshness:  style.DefaultFreshness,
		historyLimit:    50,
		pollInterval:    2 * time.Second,
		maxPollInterval: 30 * time.Second,
		watchStyles:     true,
		blockTTL:        DefaultBlockTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		id:      uuid.New().String(),
		deps:    deps,
		opts:    o,
		blocks:  newBlockCache(deps.Blocks, o.blockTTL),
		handles: make(map[string]*ScopeHandle),
		lookups: make(map[string]struct{}),
	}
	e.logger = slog.Default().With("component", "engine", "engine_id", e.id)
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.registry = subscription.NewRegistry(deps.Inserts)

	var broadcaster style.Broadcaster
	pipelineDeps := sender.Dependencies{
		Messages: deps.Messages,
		Blocks:   deps.Blocks,
		Profiles: sender.NewProfileGuard(deps.Profiles),
	}
	if deps.Relay != nil {
		broadcaster = deps.Relay.StyleBroadcaster(e.id)
		pipelineDeps.Relay = deps.Relay
	}
	e.styles = style.NewService(style.NewCache(style.WithFreshness(o.styleFreshness)), deps.Styles, broadcaster)
	e.pipeline = sender.New(pipelineDeps)
	e.cancelOnChange = e.styles.Cache().OnChange(e.restyle)

	if deps.Relay != nil {
		if err := deps.Relay.Subscribe(e.ctx, e.id, e.onEnvelope); err != nil {
			e.shutdown()
			return nil, fmt.Errorf("engine: subscribe relay: %w", err)
		}
	}
	if o.watchStyles {
		h, err := e.styles.Watch(e.ctx)
		if err != nil {
			// Styles still resolve through fetches and the relay.
			e.logger.Warn("Style push subscription unavailable", "error", err)
		} else {
			e.styleWatch = h
		}
	}
	return e, nil
}

// ID is the relay origin of engine-level events.
func (e *Engine) ID() string { return e.id }

// Styles returns the style service shared by the engine's handles.
func (e *Engine) Styles() *style.Service { return e.styles }

// SaveStyle persists the viewer's own style and notifies sibling engines.
// Every open handle restyles immediately.
func (e *Engine) SaveStyle(ctx context.Context, s domain.StyleOverride) error {
	return e.styles.SaveOwn(ctx, s)
}

// OpenScope resolves the scope, attaches to its push subscription and runs
// the initial bulk load. A failed subscription does not fail the call: the
// handle polls until it can attach. A failed bulk load leaves the handle
// empty with LoadErr set.
func (e *Engine) OpenScope(ctx context.Context, req OpenRequest) (*ScopeHandle, error) {
	key, err := scope.Resolve(req.RoomID, req.StreamID)
	if err != nil {
		return nil, err
	}

	h := newHandle(e, key, req)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		h.cancel()
		return nil, domain.ErrScopeClosed
	}
	e.handles[h.id] = h
	e.mu.Unlock()
	metrics.AddGauge(metrics.ScopesOpen, 1)

	if err := h.attach(ctx); err != nil {
		h.logger.Warn("Push subscription failed, falling back to polling", "error", err)
		go h.pollUntilLive()
	}
	if err := h.Reload(ctx); err != nil {
		h.logger.Warn("Initial load failed", "error", err)
	}
	return h, nil
}

// CloseScope closes h. It is the same as h.Close.
func (e *Engine) CloseScope(h *ScopeHandle) error {
	if h == nil {
		return nil
	}
	return h.Close()
}

// Stats reports the engine's current size.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	n := len(e.handles)
	e.mu.Unlock()
	return Stats{
		ID:            e.id,
		Handles:       n,
		Subscriptions: e.registry.Stats(),
		CachedStyles:  e.styles.Cache().Len(),
	}
}

// Close closes every handle and the engine's own subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	handles := make([]*ScopeHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
	e.shutdown()
	return e.registry.Close()
}

func (e *Engine) shutdown() {
	e.cancel()
	if e.cancelOnChange != nil {
		e.cancelOnChange()
	}
	e.mu.Lock()
	w := e.styleWatch
	e.styleWatch = nil
	e.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

func (e *Engine) forget(h *ScopeHandle) {
	e.mu.Lock()
	delete(e.handles, h.id)
	e.mu.Unlock()
}

// handlesFor lists the open handles of key.
func (e *Engine) handlesFor(key scope.Key) []*ScopeHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*ScopeHandle
	for _, h := range e.handles {
		if h.key == key {
			out = append(out, h)
		}
	}
	return out
}

// restyle is the style cache listener. It runs on the goroutine that wrote
// the cache.
func (e *Engine) restyle(senderID string, s *domain.StyleOverride) {
	e.mu.Lock()
	handles := make([]*ScopeHandle, 0, len(e.handles))
	for _, h := range e.handles {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		h.store.Restyle(senderID, s)
	}
}

// decorate attaches the cached style of the sender, if any.
func (e *Engine) decorate(msg domain.ChatMessage) domain.ChatMessage {
	if msg.SenderID == "" {
		return msg
	}
	if s, ok := e.styles.Cache().Get(msg.SenderID); ok {
		msg.Style = s
	}
	return msg
}

// ensureStyle starts a background lookup for a sender the cache has never
// seen. The lookup result reaches handles through the cache listener.
func (e *Engine) ensureStyle(senderID string) {
	if senderID == "" {
		return
	}
	if _, ok := e.styles.Cache().Get(senderID); ok {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if _, busy := e.lookups[senderID]; busy {
		e.mu.Unlock()
		return
	}
	e.lookups[senderID] = struct{}{}
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.lookups, senderID)
			e.mu.Unlock()
		}()
		if _, err := e.styles.Lookup(e.ctx, senderID); err != nil {
			e.logger.Debug("Style lookup failed", "sender_id", senderID, "error", err)
		}
	}()
}

// onEnvelope handles relay events from other origins. It runs on the relay
// subscriber goroutine, so anything that may publish or reload goes to a
// new goroutine.
func (e *Engine) onEnvelope(ctx context.Context, env relay.Envelope) {
	switch env.Type {
	case relay.TypeNewMessage:
		handles := e.handlesFor(env.Scope)
		if len(handles) == 0 {
			return
		}
		msg, err := env.Message()
		for _, h := range handles {
			if h.id == env.Origin {
				continue
			}
			if err != nil {
				e.logger.Debug("Relay payload insufficient, reloading scope", "scope", env.Scope, "error", err)
				go func(h *ScopeHandle) { _ = h.Reload(h.ctx) }(h)
				continue
			}
			h.applyConfirmed(ctx, msg)
		}

	case relay.TypeStyleChanged:
		change, err := env.StyleChange()
		if err != nil {
			e.logger.Warn("Dropping malformed style_changed envelope", "origin", env.Origin, "error", err)
			return
		}
		e.styles.Cache().Set(change.SenderID, change.Style, style.SourceBroadcast)

	default:
		e.logger.Warn("Dropping relay envelope of unknown type", "type", env.Type, "origin", env.Origin)
	}
}

// Package subscription multiplexes push subscriptions: however many
// handles attach to a scope, one underlying subscription is open for it.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/scope"
)

// Listener receives inserted rows of the attached scope.
type Listener func(domain.ChatMessage)

type listenerRef struct {
	id uint64
	fn Listener
}

type entry struct {
	key       scope.Key
	handle    domain.SubscriptionHandle
	refCount  int
	listeners []listenerRef

	ready chan struct{} // closed when the open call returned
	err   error

	// deliverMu keeps fan-out of one scope in delivery order.
	deliverMu sync.Mutex
}

// Attachment is one caller's share of a scope subscription.
type Attachment struct {
	key  scope.Key
	id   uint64
	reg  *Registry
	once sync.Once
}

// Key returns the attached scope.
func (a *Attachment) Key() scope.Key { return a.key }

// Detach is shorthand for Registry.Detach.
func (a *Attachment) Detach() { a.reg.Detach(a) }

// Stats summarizes the registry.
type Stats struct {
	Scopes    int `json:"scopes"`
	Listeners int `json:"listeners"`
}

// Registry is the per-engine subscription multiplexer.
type Registry struct {
	opener domain.InsertSubscriber
	logger *slog.Logger

	mu      sync.Mutex
	entries map[scope.Key]*entry
	nextID  uint64
	closed  bool
}

// NewRegistry creates a registry that opens subscriptions through opener.
func NewRegistry(opener domain.InsertSubscriber) *Registry {
	return &Registry{
		opener:  opener,
		logger:  slog.Default().With("component", "subscription"),
		entries: make(map[scope.Key]*entry),
	}
}

// Attach registers listener for key, opening the underlying subscription
// if this is the first attachment. Callers racing on a key that is still
// opening share that open and its outcome.
func (r *Registry) Attach(ctx context.Context, key scope.Key, listener Listener) (*Attachment, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &domain.SubscriptionError{Scope: key, Err: domain.ErrScopeClosed}
	}
	r.nextID++
	att := &Attachment{key: key, id: r.nextID, reg: r}
	ref := listenerRef{id: att.id, fn: listener}

	e, exists := r.entries[key]
	if exists {
		e.refCount++
		e.listeners = append(e.listeners, ref)
		r.mu.Unlock()
		return r.await(ctx, e, att)
	}

	e = &entry{key: key, refCount: 1, listeners: []listenerRef{ref}, ready: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	h, err := r.opener.SubscribeInserts(ctx, key, func(msg domain.ChatMessage) {
		r.deliver(e, msg)
	})

	r.mu.Lock()
	if err != nil {
		e.err = err
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		close(e.ready)
		r.mu.Unlock()
		metrics.Inc(metrics.SubscriptionAttach, "failed")
		r.logger.Warn("Failed to open subscription", "scope", key, "error", err)
		return nil, &domain.SubscriptionError{Scope: key, Err: err}
	}
	e.handle = h
	orphaned := e.refCount == 0 || r.closed
	if orphaned {
		e.err = domain.ErrScopeClosed
		if r.entries[key] == e {
			delete(r.entries, key)
		}
	}
	close(e.ready)
	r.mu.Unlock()

	metrics.AddGauge(metrics.SubscriptionsOpen, 1)
	if orphaned {
		r.closeHandle(e)
		return nil, &domain.SubscriptionError{Scope: key, Err: domain.ErrScopeClosed}
	}
	metrics.Inc(metrics.SubscriptionAttach, "opened")
	r.logger.Debug("Opened subscription", "scope", key)
	return att, nil
}

// await waits for a pending open started by another caller.
func (r *Registry) await(ctx context.Context, e *entry, att *Attachment) (*Attachment, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		r.Detach(att)
		return nil, &domain.SubscriptionError{Scope: e.key, Err: ctx.Err()}
	}
	if e.err != nil {
		metrics.Inc(metrics.SubscriptionAttach, "failed")
		return nil, &domain.SubscriptionError{Scope: e.key, Err: e.err}
	}
	metrics.Inc(metrics.SubscriptionAttach, "reused")
	return att, nil
}

// Detach drops the attachment. The last detach of a scope closes the
// underlying subscription. Detaching twice is a no-op.
func (r *Registry) Detach(att *Attachment) {
	if att == nil {
		return
	}
	att.once.Do(func() {
		r.mu.Lock()
		e, ok := r.entries[att.key]
		if !ok || !e.removeListener(att.id) {
			r.mu.Unlock()
			return
		}
		e.refCount--
		last := e.refCount == 0 && e.handle != nil
		if last {
			delete(r.entries, att.key)
		}
		r.mu.Unlock()

		if last {
			r.closeHandle(e)
		}
	})
}

// RefCount returns the number of attachments of key.
func (r *Registry) RefCount(key scope.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refCount
	}
	return 0
}

// Stats returns a snapshot of the registry.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Scopes: len(r.entries)}
	for _, e := range r.entries {
		s.Listeners += len(e.listeners)
	}
	return s
}

// Close closes every open subscription and rejects further attaches.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	var open []*entry
	for key, e := range r.entries {
		if e.handle != nil {
			open = append(open, e)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, e := range open {
		r.closeHandle(e)
	}
	return nil
}

func (r *Registry) deliver(e *entry, msg domain.ChatMessage) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	r.mu.Lock()
	fns := make([]Listener, len(e.listeners))
	for i, l := range e.listeners {
		fns[i] = l.fn
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (r *Registry) closeHandle(e *entry) {
	metrics.AddGauge(metrics.SubscriptionsOpen, -1)
	if err := e.handle.Close(); err != nil {
		r.logger.Warn("Failed to close subscription", "scope", e.key, "error", err)
		return
	}
	r.logger.Debug("Closed subscription", "scope", e.key)
}

func (e *entry) removeListener(id uint64) bool {
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

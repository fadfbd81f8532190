package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/messages"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/optimistic"
	"github.com/nfrund/chatsync/internal/retry"
	"github.com/nfrund/chatsync/internal/scope"
	"github.com/nfrund/chatsync/internal/sender"
	"github.com/nfrund/chatsync/internal/subscription"
)

// ScopeHandle is one mounted view of a scope: a live, ordered message log
// plus the compose box that sends into it.
type ScopeHandle struct {
	id      string
	engine  *Engine
	key     scope.Key
	viewer  domain.Identity
	ownerID string
	store   *messages.Store
	echo    *optimistic.Manager
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	draft    string
	att      *subscription.Attachment
	loadErr  error
	closed   bool
	loading  int
	captured []domain.ChatMessage // pushes seen while a load is in flight

	// loadMu serializes the apply step of bulk loads; loadToken orders them.
	loadMu    sync.Mutex
	loadToken atomic.Uint64
}

func newHandle(e *Engine, key scope.Key, req OpenRequest) *ScopeHandle {
	h := &ScopeHandle{
		id:      uuid.New().String(),
		engine:  e,
		key:     key,
		viewer:  req.Viewer,
		ownerID: req.OwnerID,
		store:   messages.NewStore(key),
	}
	h.logger = e.logger.With("scope", key, "handle_id", h.id)
	h.ctx, h.cancel = context.WithCancel(e.ctx)
	h.echo = optimistic.NewManager(h.store,
		optimistic.WithWindow(e.opts.reconcileWindow),
		optimistic.WithDecorator(e.decorate),
		optimistic.WithLogger(h.logger),
	)
	viewerID := req.Viewer.UserID
	h.store.ApplyBlockFilter(func(senderID string) bool {
		return e.blocks.blocked(viewerID, senderID)
	})
	return h
}

// ID is the relay origin of messages sent from this handle.
func (h *ScopeHandle) ID() string { return h.id }

// Key returns the resolved scope.
func (h *ScopeHandle) Key() scope.Key { return h.key }

// Messages returns the visible messages in display order.
func (h *ScopeHandle) Messages() []domain.ChatMessage { return h.store.Snapshot() }

// Changes signals after the visible messages changed. Signals coalesce.
func (h *ScopeHandle) Changes() <-chan struct{} { return h.store.Changes() }

// Version increases with every visible change.
func (h *ScopeHandle) Version() uint64 { return h.store.Version() }

// Draft returns the compose box contents.
func (h *ScopeHandle) Draft() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.draft
}

// SetDraft replaces the compose box contents.
func (h *ScopeHandle) SetDraft(body string) {
	h.mu.Lock()
	h.draft = body
	h.mu.Unlock()
}

// Live reports whether the handle receives pushes. While false the handle
// polls.
func (h *ScopeHandle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.att != nil
}

// LoadErr returns the error of the last bulk load, or nil if it succeeded.
func (h *ScopeHandle) LoadErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadErr
}

// Send posts body to the scope as the viewer. The echo is visible and the
// draft cleared before this blocks on the network.
func (h *ScopeHandle) Send(ctx context.Context, body string) (domain.ChatMessage, error) {
	if h.isClosed() {
		return domain.ChatMessage{}, domain.ErrScopeClosed
	}
	if h.viewer.UserID == "" {
		return domain.ChatMessage{}, domain.ErrNoViewer
	}
	row, err := h.engine.pipeline.Send(ctx, sender.Request{
		Key:     h.key,
		Viewer:  h.viewer,
		OwnerID: h.ownerID,
		Body:    body,
		Origin:  h.id,
		Echo:    h.echo,
		Draft:   h,
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	h.keepSent(row)
	h.engine.ensureStyle(row.SenderID)
	return row, nil
}

// keepSent makes sure a bulk load whose snapshot predates the insert does
// not drop the viewer's own confirmed row.
func (h *ScopeHandle) keepSent(row domain.ChatMessage) {
	h.mu.Lock()
	if h.loading > 0 {
		h.captured = append(h.captured, row)
	}
	h.mu.Unlock()
	if _, ok := h.store.Get(row.ID); !ok {
		h.store.Upsert(h.engine.decorate(row))
	}
}

// Reload runs a bulk load. Results of a load that a newer one superseded
// are discarded. If both the full and the simplified query fail, the store
// keeps what it shows and LoadErr reports the failure.
func (h *ScopeHandle) Reload(ctx context.Context) error {
	if h.isClosed() {
		return domain.ErrScopeClosed
	}
	token := h.loadToken.Add(1)

	h.mu.Lock()
	h.loading++
	start := len(h.captured)
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.loading--
		if h.loading == 0 {
			h.captured = nil
		}
		h.mu.Unlock()
	}()

	rows, joined, err := h.fetch(ctx)
	if err == nil {
		rows = h.prepare(ctx, rows, joined)
	}

	h.loadMu.Lock()
	defer h.loadMu.Unlock()
	if token != h.loadToken.Load() {
		metrics.Inc(metrics.BulkLoads, "stale")
		h.logger.Debug("Discarding superseded bulk load", "token", token)
		return nil
	}

	h.mu.Lock()
	h.loadErr = err
	h.mu.Unlock()
	if err != nil {
		return err
	}

	h.store.BulkLoad(rows)
	h.echo.Absorb(rows)

	h.mu.Lock()
	replay := append([]domain.ChatMessage(nil), h.captured[start:]...)
	h.mu.Unlock()
	for _, msg := range replay {
		if _, ok := h.store.Get(msg.ID); ok {
			continue
		}
		h.echo.Reconcile(msg)
	}
	return nil
}

// fetch runs the full query and falls back to the simplified one. joined
// reports whether rows carry their sender's style.
func (h *ScopeHandle) fetch(ctx context.Context) (rows []domain.ChatMessage, joined bool, err error) {
	repo := h.engine.deps.Messages
	opts := domain.ListOptions{Limit: h.engine.opts.historyLimit}

	rows, err = repo.ListMessages(ctx, h.key, opts)
	if err == nil {
		metrics.Inc(metrics.BulkLoads, "ok")
		return rows, true, nil
	}
	h.logger.Warn("Bulk load failed, retrying with simplified query", "error", err)

	opts.Simplified = true
	rows, fallbackErr := repo.ListMessages(ctx, h.key, opts)
	if fallbackErr != nil {
		metrics.Inc(metrics.BulkLoads, "failed")
		return nil, false, fmt.Errorf("load %s: %w", h.key, errors.Join(err, fallbackErr))
	}
	metrics.Inc(metrics.BulkLoads, "fallback")
	return rows, false, nil
}

// prepare orders rows, resolves block answers for their senders and
// attaches styles, with the cache taking precedence over fetched values.
func (h *ScopeHandle) prepare(ctx context.Context, rows []domain.ChatMessage, joined bool) []domain.ChatMessage {
	kept := rows[:0]
	for _, m := range rows {
		if m.ScopeKey == h.key {
			kept = append(kept, m)
		}
	}
	rows = kept
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	var senders []string
	fetched := make(map[string]*domain.StyleOverride)
	for _, m := range rows {
		if m.SenderID == "" {
			continue
		}
		prev, seen := fetched[m.SenderID]
		if !seen {
			senders = append(senders, m.SenderID)
		}
		if prev == nil {
			fetched[m.SenderID] = m.Style
		}
	}

	h.engine.blocks.resolve(ctx, h.viewer.UserID, true, senders...)

	if joined {
		cache := h.engine.styles.Cache()
		for _, id := range senders {
			cache.Resolve(id, fetched[id])
		}
	} else {
		h.engine.styles.LookupMany(ctx, senders)
	}

	for i := range rows {
		rows[i].Style = nil
		rows[i] = h.engine.decorate(rows[i])
	}
	return rows
}

// applyConfirmed reconciles a confirmed row from push or relay.
func (h *ScopeHandle) applyConfirmed(ctx context.Context, msg domain.ChatMessage) {
	if h.isClosed() || msg.ScopeKey != h.key {
		return
	}
	h.mu.Lock()
	if h.loading > 0 {
		h.captured = append(h.captured, msg)
	}
	h.mu.Unlock()

	// Resolve before insert so a blocked sender is never visible.
	h.engine.blocks.resolve(ctx, h.viewer.UserID, false, msg.SenderID)
	out := h.echo.Reconcile(msg)
	if out.Reconciled {
		metrics.Inc(metrics.OptimisticOutcomes, "reconciled")
	}
	h.engine.ensureStyle(msg.SenderID)
}

func (h *ScopeHandle) onPush(msg domain.ChatMessage) {
	h.applyConfirmed(h.ctx, msg)
}

// attach joins the scope's push subscription.
func (h *ScopeHandle) attach(ctx context.Context) error {
	att, err := h.engine.registry.Attach(ctx, h.key, h.onPush)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		att.Detach()
		return domain.ErrScopeClosed
	}
	h.att = att
	h.mu.Unlock()
	return nil
}

// pollUntilLive reloads the scope with exponential backoff and retries the
// push subscription each round until it attaches or the handle closes.
func (h *ScopeHandle) pollUntilLive() {
	o := h.engine.opts
	b := retry.New(
		retry.WithMaxRetries(-1),
		retry.WithBaseDelay(o.pollInterval),
		retry.WithMaxDelay(o.maxPollInterval),
	)

	first := true
	err := b.Retry(h.ctx, func() error {
		if first {
			// The caller just tried; wait one interval before the first poll.
			first = false
			return errors.New("initial attach failed")
		}
		if err := h.Reload(h.ctx); err != nil && !errors.Is(err, domain.ErrScopeClosed) {
			h.logger.Debug("Poll reload failed", "error", err)
		}
		return h.attach(h.ctx)
	})
	if err != nil {
		return
	}
	h.logger.Info("Push subscription recovered")
	// Rows inserted between the last poll and the attach.
	_ = h.Reload(h.ctx)
}

func (h *ScopeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close detaches from the subscription and stops polling. It is safe to
// call more than once and from inside a push callback.
func (h *ScopeHandle) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		att := h.att
		h.att = nil
		h.mu.Unlock()

		h.cancel()
		if att != nil {
			att.Detach()
		}
		h.engine.forget(h)
		metrics.AddGauge(metrics.ScopesOpen, -1)
	})
	return nil
}

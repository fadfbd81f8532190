// Package optimistic shows a sent message immediately and later merges it
// with the copy the server confirms.
package optimistic

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/messages"
)

// DefaultWindow bounds how far apart an echo and its confirmation may be.
const DefaultWindow = 8 * time.Second

// State is the lifecycle position of one pending send.
type State int

const (
	StateOptimistic State = iota
	StateReconciled
	StateRolledBack
	// StateExpired means the window passed without a match. The row stays
	// visible as a regular message.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateOptimistic:
		return "optimistic"
	case StateReconciled:
		return "reconciled"
	case StateRolledBack:
		return "rolled_back"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Pending is one optimistic send. Its fields are immutable; the state is
// owned by the Manager.
type Pending struct {
	TempID    string
	SenderID  string
	Body      string
	CreatedAt time.Time
	Token     string

	state State
}

// Outcome reports what Reconcile did with a confirmed message.
type Outcome struct {
	Reconciled bool
	// ReplacedID is the temporary id that was swapped out, if any.
	ReplacedID string
	Token      string
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMatcher replaces the HeuristicMatcher.
func WithMatcher(matcher Matcher) Option {
	return func(m *Manager) { m.matcher = matcher }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDecorator sets a function applied to every message the manager
// writes, typically to attach the sender's display style.
func WithDecorator(fn func(domain.ChatMessage) domain.ChatMessage) Option {
	return func(m *Manager) { m.decorate = fn }
}

// Manager tracks the pending sends of one message store.
type Manager struct {
	store    *messages.Store
	window   time.Duration
	now      func() time.Time
	matcher  Matcher
	decorate func(domain.ChatMessage) domain.ChatMessage
	logger   *slog.Logger

	mu      sync.Mutex
	pending []*Pending // oldest first, Optimistic state only
}

// NewManager creates a manager writing into store.
func NewManager(store *messages.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		window:   DefaultWindow,
		now:      time.Now,
		matcher:  HeuristicMatcher{},
		decorate: func(msg domain.ChatMessage) domain.ChatMessage { return msg },
		logger:   slog.Default().With("component", "optimistic"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the reconciliation window.
func (m *Manager) Window() time.Duration { return m.window }

// Begin upserts a provisional message and returns its handle. The caller has
// already validated body.
func (m *Manager) Begin(senderID, body string) *Pending {
	now := m.now()
	p := &Pending{
		TempID:    domain.TemporaryIDPrefix + ulid.Make().String(),
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
		Token:     Token(senderID, body, now),
		state:     StateOptimistic,
	}

	m.mu.Lock()
	m.expireLocked(now)
	m.pending = append(m.pending, p)
	m.mu.Unlock()

	m.store.Upsert(m.decorate(domain.ChatMessage{
		ID:        p.TempID,
		ScopeKey:  m.store.Key(),
		SenderID:  senderID,
		Kind:      domain.KindText,
		Body:      body,
		CreatedAt: now,
		Pending:   true,
	}))
	return p
}

// Reconcile applies a confirmed message from push or broadcast. If it
// matches a pending echo, the echo is replaced in place; otherwise the
// message is upserted.
func (m *Manager) Reconcile(confirmed domain.ChatMessage) Outcome {
	confirmed = m.decorate(confirmed)
	confirmed.Pending = false

	m.mu.Lock()
	m.expireLocked(m.now())
	p := m.matcher.Match(m.pending, confirmed, m.window)
	if p != nil {
		m.settleLocked(p, StateReconciled)
	}
	m.mu.Unlock()

	if p == nil {
		m.store.Upsert(confirmed)
		return Outcome{}
	}
	m.store.Replace(p.TempID, confirmed)
	m.logger.Debug("Reconciled optimistic message", "temp_id", p.TempID, "id", confirmed.ID)
	return Outcome{Reconciled: true, ReplacedID: p.TempID, Token: p.Token}
}

// Confirm settles p with the row the insert call returned. The correlation
// is exact, so it applies even after the window expired. If p was already
// reconciled by a faster push, the row is simply upserted.
func (m *Manager) Confirm(p *Pending, confirmed domain.ChatMessage) Outcome {
	confirmed = m.decorate(confirmed)
	confirmed.Pending = false

	m.mu.Lock()
	prev := p.state
	if prev == StateOptimistic {
		m.settleLocked(p, StateReconciled)
	} else if prev == StateExpired {
		p.state = StateReconciled
	}
	m.mu.Unlock()

	switch prev {
	case StateOptimistic, StateExpired:
		m.store.Replace(p.TempID, confirmed)
		return Outcome{Reconciled: true, ReplacedID: p.TempID, Token: p.Token}
	case StateRolledBack:
		return Outcome{}
	default:
		m.store.Upsert(confirmed)
		return Outcome{}
	}
}

// Absorb settles pending echoes against a freshly bulk-loaded page. Matched
// echoes are dropped in favor of the loaded row. It returns how many matched.
func (m *Manager) Absorb(loaded []domain.ChatMessage) int {
	type swap struct {
		tempID string
		msg    domain.ChatMessage
	}
	var swaps []swap

	m.mu.Lock()
	m.expireLocked(m.now())
	for _, msg := range loaded {
		if domain.IsTemporaryID(msg.ID) {
			continue
		}
		if p := m.matcher.Match(m.pending, msg, m.window); p != nil {
			m.settleLocked(p, StateReconciled)
			swaps = append(swaps, swap{tempID: p.TempID, msg: msg})
		}
	}
	m.mu.Unlock()

	for _, s := range swaps {
		m.store.Replace(s.tempID, s.msg)
	}
	return len(swaps)
}

// Rollback removes the provisional row of a failed send and returns its body
// so the caller can restore the draft. Rolling back a send that was already
// reconciled leaves the confirmed row alone.
func (m *Manager) Rollback(p *Pending) string {
	m.mu.Lock()
	prev := p.state
	if prev == StateOptimistic {
		m.settleLocked(p, StateRolledBack)
	} else if prev == StateExpired {
		p.state = StateRolledBack
	}
	m.mu.Unlock()

	if prev == StateOptimistic || prev == StateExpired {
		m.store.Remove(p.TempID)
	}
	return p.Body
}

// State returns the current state of p.
func (m *Manager) State(p *Pending) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return p.state
}

// PendingCount returns the number of unsettled echoes inside the window.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(m.now())
	return len(m.pending)
}

// expireLocked moves echoes older than the window to StateExpired and marks
// their rows as regular messages.
func (m *Manager) expireLocked(now time.Time) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.CreatedAt) <= m.window {
			kept = append(kept, p)
			continue
		}
		p.state = StateExpired
		if msg, ok := m.store.Get(p.TempID); ok && msg.Pending {
			msg.Pending = false
			m.store.Upsert(msg)
		}
	}
	for i := len(kept); i < len(m.pending); i++ {
		m.pending[i] = nil
	}
	m.pending = kept
}

func (m *Manager) settleLocked(p *Pending, to State) {
	p.state = to
	for i, q := range m.pending {
		if q == p {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

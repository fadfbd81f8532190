package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// MemBackend is an in-memory stand-in for the database implementing every
// repository the engine consumes. Inserts fan out to insert subscribers of
// the scope on the inserting goroutine.
type MemBackend struct {
	mu sync.Mutex

	rows      []domain.ChatMessage
	nextID    int
	listCalls int
	gates     map[int]*Gate

	subs    map[scope.Key]map[int]func(domain.ChatMessage)
	nextSub int
	opens   int
	closes  int

	styles      map[string]domain.StyleOverride
	styleSubs   map[int]func(domain.StyleOverride)
	staleStyles bool

	blocked  map[[2]string]bool
	profiles map[string]domain.Identity

	listErr       error
	simplifiedErr error
	insertErr     error
	blockErr      error
	subscribeErrs int
}

// Gate holds one ListMessages call until Release is closed. Entered is
// closed once the call has taken its snapshot.
type Gate struct {
	Entered chan struct{}
	Release chan struct{}
}

// NewMemBackend returns an empty backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		gates:     make(map[int]*Gate),
		subs:      make(map[scope.Key]map[int]func(domain.ChatMessage)),
		styles:    make(map[string]domain.StyleOverride),
		styleSubs: make(map[int]func(domain.StyleOverride)),
		blocked:   make(map[[2]string]bool),
		profiles:  make(map[string]domain.Identity),
	}
}

// Hold makes the n-th ListMessages call wait for its gate.
func (b *MemBackend) Hold(n int) *Gate {
	g := &Gate{Entered: make(chan struct{}), Release: make(chan struct{})}
	b.mu.Lock()
	b.gates[n] = g
	b.mu.Unlock()
	return g
}

// Seed stores a row without notifying subscribers.
func (b *MemBackend) Seed(key scope.Key, senderID, body string) domain.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(key, senderID, body)
}

func (b *MemBackend) appendLocked(key scope.Key, senderID, body string) domain.ChatMessage {
	b.nextID++
	m := domain.ChatMessage{
		ID:        fmt.Sprintf("chat_message:%d", b.nextID),
		ScopeKey:  key,
		SenderID:  senderID,
		Kind:      domain.KindText,
		Body:      body,
		CreatedAt: time.Now().Add(time.Duration(b.nextID) * time.Microsecond),
	}
	b.rows = append(b.rows, m)
	return m
}

// Block records that a blocked c.
func (b *MemBackend) Block(a, c string) {
	b.mu.Lock()
	b.blocked[[2]string{a, c}] = true
	b.mu.Unlock()
}

// Subscriptions counts insert subscriptions opened and closed so far.
func (b *MemBackend) Subscriptions() (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

// FailLists makes the full and the simplified list query fail with the
// given errors. Nil clears a failure.
func (b *MemBackend) FailLists(full, simplified error) {
	b.mu.Lock()
	b.listErr, b.simplifiedErr = full, simplified
	b.mu.Unlock()
}

// FailInserts makes InsertMessage fail with err.
func (b *MemBackend) FailInserts(err error) {
	b.mu.Lock()
	b.insertErr = err
	b.mu.Unlock()
}

// FailBlockChecks makes IsBlockedBidirectional fail with err.
func (b *MemBackend) FailBlockChecks(err error) {
	b.mu.Lock()
	b.blockErr = err
	b.mu.Unlock()
}

// FailSubscribes makes the next n SubscribeInserts calls fail.
func (b *MemBackend) FailSubscribes(n int) {
	b.mu.Lock()
	b.subscribeErrs = n
	b.mu.Unlock()
}

// PutStyle stores a style without notifying style subscribers.
func (b *MemBackend) PutStyle(s domain.StyleOverride) {
	b.mu.Lock()
	b.styles[s.SenderID] = s
	b.mu.Unlock()
}

// FreezeStyles makes SaveStyle stop updating stored styles, so reads
// return stale values.
func (b *MemBackend) FreezeStyles() {
	b.mu.Lock()
	b.staleStyles = true
	b.mu.Unlock()
}

// HasProfile reports whether EnsureProfile provisioned userID.
func (b *MemBackend) HasProfile(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.profiles[userID]
	return ok
}

// Rows returns every stored row in insertion order.
func (b *MemBackend) Rows() []domain.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.ChatMessage(nil), b.rows...)
}

func (b *MemBackend) ListMessages(ctx context.Context, key scope.Key, opts domain.ListOptions) ([]domain.ChatMessage, error) {
	b.mu.Lock()
	b.listCalls++
	g := b.gates[b.listCalls]
	err := b.listErr
	if opts.Simplified {
		err = b.simplifiedErr
	}
	var out []domain.ChatMessage
	if err == nil {
		// Newest first, like the real query.
		for i := len(b.rows) - 1; i >= 0; i-- {
			m := b.rows[i]
			if m.ScopeKey != key {
				continue
			}
			if !opts.Simplified {
				if s, ok := b.styles[m.SenderID]; ok {
					m.Style = &s
				}
			}
			out = append(out, m)
			if opts.Limit > 0 && len(out) == opts.Limit {
				break
			}
		}
	}
	b.mu.Unlock()

	if g != nil {
		close(g.Entered)
		select {
		case <-g.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, err
}

func (b *MemBackend) InsertMessage(ctx context.Context, key scope.Key, senderID, body string) (domain.ChatMessage, error) {
	b.mu.Lock()
	if b.insertErr != nil {
		err := b.insertErr
		b.mu.Unlock()
		return domain.ChatMessage{}, err
	}
	m := b.appendLocked(key, senderID, body)
	var listeners []func(domain.ChatMessage)
	for _, fn := range b.subs[key] {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(m)
	}
	return m, nil
}

type memHandle struct {
	once  sync.Once
	close func()
}

func (h *memHandle) Close() error {
	h.once.Do(h.close)
	return nil
}

func (b *MemBackend) SubscribeInserts(ctx context.Context, key scope.Key, onInsert func(domain.ChatMessage)) (domain.SubscriptionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErrs > 0 {
		b.subscribeErrs--
		return nil, errors.New("live query unavailable")
	}
	b.opens++
	b.nextSub++
	id := b.nextSub
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]func(domain.ChatMessage))
	}
	b.subs[key][id] = onInsert
	return &memHandle{close: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[key], id)
		b.closes++
	}}, nil
}

func (b *MemBackend) GetStyle(ctx context.Context, senderID string) (*domain.StyleOverride, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.styles[senderID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (b *MemBackend) SaveStyle(ctx context.Context, s domain.StyleOverride) error {
	b.mu.Lock()
	if !b.staleStyles {
		b.styles[s.SenderID] = s
	}
	var listeners []func(domain.StyleOverride)
	for _, fn := range b.styleSubs {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	return nil
}

func (b *MemBackend) SubscribeStyleChanges(ctx context.Context, onChange func(domain.StyleOverride)) (domain.SubscriptionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	b.styleSubs[id] = onChange
	return &memHandle{close: func() {
		b.mu.Lock()
		delete(b.styleSubs, id)
		b.mu.Unlock()
	}}, nil
}

func (b *MemBackend) IsBlockedBidirectional(ctx context.Context, viewerID, otherID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blockErr != nil {
		return false, b.blockErr
	}
	return b.blocked[[2]string{viewerID, otherID}] || b.blocked[[2]string{otherID, viewerID}], nil
}

func (b *MemBackend) EnsureProfile(ctx context.Context, userID string, fallback domain.Identity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.profiles[userID]; !ok {
		b.profiles[userID] = fallback
	}
	return nil
}

package domain

import (
	"context"

	"github.com/nfrund/chatsync/internal/scope"
)

// The interfaces below are the external services the engine consumes. They
// live in the domain because they are requirements of the engine, not of any
// particular database or broker.

// ListOptions controls a bulk fetch.
type ListOptions struct {
	Limit int
	// Simplified asks for the plain fallback query (no style join, no
	// server-side ordering) used when the full query fails.
	Simplified bool
}

// MessageRepository reads and writes chat message rows.
type MessageRepository interface {
	// ListMessages returns up to opts.Limit recent messages of the scope in
	// any order; callers normalize to ascending CreatedAt.
	ListMessages(ctx context.Context, key scope.Key, opts ListOptions) ([]ChatMessage, error)
	// InsertMessage persists a text message and returns the stored row.
	InsertMessage(ctx context.Context, key scope.Key, senderID, body string) (ChatMessage, error)
}

// SubscriptionHandle is an open push subscription.
type SubscriptionHandle interface {
	Close() error
}

// InsertSubscriber delivers newly inserted rows of one scope as they occur.
// Deliveries for one subscription are sequential.
type InsertSubscriber interface {
	SubscribeInserts(ctx context.Context, key scope.Key, onInsert func(ChatMessage)) (SubscriptionHandle, error)
}

// StyleRepository is the backing store of style overrides.
type StyleRepository interface {
	GetStyle(ctx context.Context, senderID string) (*StyleOverride, error)
	SaveStyle(ctx context.Context, style StyleOverride) error
	SubscribeStyleChanges(ctx context.Context, onChange func(StyleOverride)) (SubscriptionHandle, error)
}

// BlockChecker answers whether either user blocked the other.
type BlockChecker interface {
	IsBlockedBidirectional(ctx context.Context, viewerID, otherID string) (bool, error)
}

// ProfileRepository guarantees a sender profile row exists before inserts
// that reference it.
type ProfileRepository interface {
	EnsureProfile(ctx context.Context, userID string, fallback Identity) error
}

package style

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nfrund/chatsync/internal/domain"
)

// ErrNoSender is returned when a style carries no sender id.
var ErrNoSender = errors.New("style: sender id is required")

// Broadcaster tells sibling engines that a style changed.
type Broadcaster interface {
	BroadcastStyle(ctx context.Context, style domain.StyleOverride) error
}

// Service connects the Cache to the style repository and the relay.
type Service struct {
	cache  *Cache
	repo   domain.StyleRepository
	relay  Broadcaster
	logger *slog.Logger
}

// NewService creates a Service. relay may be nil when the engine has no
// siblings.
func NewService(cache *Cache, repo domain.StyleRepository, relay Broadcaster) *Service {
	return &Service{
		cache:  cache,
		repo:   repo,
		relay:  relay,
		logger: slog.Default().With("component", "style"),
	}
}

// Cache returns the underlying cache.
func (s *Service) Cache() *Cache { return s.cache }

// SaveOwn persists the viewer's own style, writes it to the cache as a local
// value and broadcasts it. A failed broadcast is only logged.
func (s *Service) SaveOwn(ctx context.Context, style domain.StyleOverride) error {
	if style.SenderID == "" {
		return ErrNoSender
	}
	if err := s.repo.SaveStyle(ctx, style); err != nil {
		return fmt.Errorf("save style: %w", err)
	}
	s.cache.Set(style.SenderID, &style, SourceLocal)

	if s.relay != nil {
		if err := s.relay.BroadcastStyle(ctx, style); err != nil {
			s.logger.Warn("Failed to broadcast style change", "sender_id", style.SenderID, "error", err)
		}
	}
	return nil
}

// Watch feeds push updates of the style table into the cache until the
// returned handle is closed.
func (s *Service) Watch(ctx context.Context) (domain.SubscriptionHandle, error) {
	h, err := s.repo.SubscribeStyleChanges(ctx, func(change domain.StyleOverride) {
		s.cache.Set(change.SenderID, &change, SourcePush)
	})
	if err != nil {
		return nil, fmt.Errorf("watch styles: %w", err)
	}
	return h, nil
}

// Lookup returns the style of senderID, consulting the cache first. A fetch
// only happens on a miss, and its result goes through Resolve so a
// concurrent local write still wins. Later changes reach the cache through
// pushes and the relay.
func (s *Service) Lookup(ctx context.Context, senderID string) (*domain.StyleOverride, error) {
	if cached, ok := s.cache.Get(senderID); ok {
		return cached, nil
	}
	fetched, err := s.repo.GetStyle(ctx, senderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup style %s: %w", senderID, err)
	}
	return s.cache.Resolve(senderID, fetched), nil
}

// LookupMany resolves the styles of several senders. Fetch errors for
// individual senders are logged and leave that sender unstyled.
func (s *Service) LookupMany(ctx context.Context, senderIDs []string) map[string]*domain.StyleOverride {
	out := make(map[string]*domain.StyleOverride, len(senderIDs))
	for _, id := range senderIDs {
		st, err := s.Lookup(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to resolve style", "sender_id", id, "error", err)
			continue
		}
		out[id] = st
	}
	return out
}

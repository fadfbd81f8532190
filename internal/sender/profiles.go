package sender

import (
	"context"
	"sync"

	"github.com/nfrund/chatsync/internal/domain"
)

// ProfileGuard makes sure a sender profile exists before the first send of
// a session. Once a user is confirmed, later sends skip the check.
// Concurrent first sends of one user share a single EnsureProfile call.
type ProfileGuard struct {
	repo domain.ProfileRepository

	mu       sync.Mutex
	ensured  map[string]bool
	inflight map[string]*ensureCall
}

type ensureCall struct {
	done chan struct{}
	err  error
}

// NewProfileGuard creates a guard for one session.
func NewProfileGuard(repo domain.ProfileRepository) *ProfileGuard {
	return &ProfileGuard{
		repo:     repo,
		ensured:  make(map[string]bool),
		inflight: make(map[string]*ensureCall),
	}
}

// Ensure provisions the profile of who if this session has not done so.
// Failures are returned as *domain.DependencyRepairError and are not
// remembered, so the next send retries.
func (g *ProfileGuard) Ensure(ctx context.Context, who domain.Identity) error {
	g.mu.Lock()
	if g.ensured[who.UserID] {
		g.mu.Unlock()
		return nil
	}
	if call, ok := g.inflight[who.UserID]; ok {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return &domain.DependencyRepairError{UserID: who.UserID, Err: ctx.Err()}
		}
	}
	call := &ensureCall{done: make(chan struct{})}
	g.inflight[who.UserID] = call
	g.mu.Unlock()

	fallback := who
	fallback.DisplayName = who.FallbackDisplayName()
	if err := g.repo.EnsureProfile(ctx, who.UserID, fallback); err != nil {
		call.err = &domain.DependencyRepairError{UserID: who.UserID, Err: err}
	}

	g.mu.Lock()
	delete(g.inflight, who.UserID)
	if call.err == nil {
		g.ensured[who.UserID] = true
	}
	g.mu.Unlock()
	close(call.done)
	return call.err
}

// Forget drops the confirmation for userID, forcing a check on next send.
func (g *ProfileGuard) Forget(userID string) {
	g.mu.Lock()
	delete(g.ensured, userID)
	g.mu.Unlock()
}

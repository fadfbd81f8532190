// Package sender runs a message from the compose box to the database:
// validate, echo, ensure the sender profile, persist, then confirm or roll
// back.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/metrics"
	"github.com/nfrund/chatsync/internal/optimistic"
	"github.com/nfrund/chatsync/internal/relay"
	"github.com/nfrund/chatsync/internal/scope"
)

// Broadcaster publishes relay envelopes.
type Broadcaster interface {
	Publish(ctx context.Context, env relay.Envelope) error
}

// Draft is the compose box of the handle that is sending.
type Draft interface {
	SetDraft(body string)
}

// Dependencies are the collaborators of a Pipeline.
type Dependencies struct {
	Messages domain.MessageRepository
	Blocks   domain.BlockChecker
	Profiles *ProfileGuard
	// Relay is optional; without it no new_message envelope is sent.
	Relay Broadcaster
}

// Request is one send.
type Request struct {
	Key     scope.Key
	Viewer  domain.Identity
	OwnerID string // scope owner; empty when the scope has none
	Body    string
	Origin  string // relay origin of the sending handle
	Echo    *optimistic.Manager
	Draft   Draft
}

// Pipeline is stateless apart from its dependencies and safe for
// concurrent use.
type Pipeline struct {
	deps   Dependencies
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{
		deps:   deps,
		logger: slog.Default().With("component", "sender"),
	}
}

// Send validates and persists req.Body. The optimistic row appears and the
// draft clears before any I/O for persistence starts. On failure the row is
// removed, the draft restored and an error matching domain.ErrPersistFailure
// is returned. Validation failures echo nothing.
func (p *Pipeline) Send(ctx context.Context, req Request) (domain.ChatMessage, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.SendDuration, start)

	body, err := domain.NormalizeBody(req.Body)
	if err != nil {
		metrics.Inc(metrics.Sends, "invalid")
		return domain.ChatMessage{}, err
	}
	if err := p.checkBlocked(ctx, req); err != nil {
		return domain.ChatMessage{}, err
	}

	pending := req.Echo.Begin(req.Viewer.UserID, body)
	if req.Draft != nil {
		req.Draft.SetDraft("")
	}

	if err := p.deps.Profiles.Ensure(ctx, req.Viewer); err != nil {
		p.rollback(req, pending)
		p.logger.Warn("Sender profile repair failed", "user_id", req.Viewer.UserID, "error", err)
		return domain.ChatMessage{}, err
	}

	row, err := p.deps.Messages.InsertMessage(ctx, req.Key, req.Viewer.UserID, body)
	if err != nil {
		p.rollback(req, pending)
		p.logger.Warn("Failed to persist message", "scope", req.Key, "user_id", req.Viewer.UserID, "error", err)
		return domain.ChatMessage{}, fmt.Errorf("%w: %w", domain.ErrPersistFailure, err)
	}

	if out := req.Echo.Confirm(pending, row); out.Reconciled {
		metrics.Inc(metrics.OptimisticOutcomes, "reconciled")
	}
	metrics.Inc(metrics.Sends, "ok")

	if p.deps.Relay != nil {
		if env, err := relay.NewMessageEnvelope(req.Origin, row); err == nil {
			if err := p.deps.Relay.Publish(ctx, env); err != nil {
				p.logger.Warn("Failed to broadcast new message", "scope", req.Key, "id", row.ID, "error", err)
			}
		}
	}
	return row, nil
}

func (p *Pipeline) checkBlocked(ctx context.Context, req Request) error {
	if p.deps.Blocks == nil || req.OwnerID == "" || req.OwnerID == req.Viewer.UserID {
		return nil
	}
	blocked, err := p.deps.Blocks.IsBlockedBidirectional(ctx, req.Viewer.UserID, req.OwnerID)
	if err != nil {
		// Fail open: an unavailable block list must not stop every send.
		p.logger.Warn("Block check failed, sending anyway",
			"scope", req.Key, "user_id", req.Viewer.UserID, "owner_id", req.OwnerID, "error", err)
		return nil
	}
	if blocked {
		metrics.Inc(metrics.Sends, "blocked")
		return domain.ErrMessagingBlocked
	}
	return nil
}

func (p *Pipeline) rollback(req Request, pending *optimistic.Pending) {
	body := req.Echo.Rollback(pending)
	if req.Draft != nil {
		req.Draft.SetDraft(body)
	}
	metrics.Inc(metrics.OptimisticOutcomes, "rolled_back")
	metrics.Inc(metrics.Sends, "failed")
}

package database

import (
	"context"
	"log/slog"

	"github.com/nfrund/chatsync/internal/domain"
)

// StyleStore persists per-sender style overrides in chat_style, one record
// per sender keyed by the sender id.
type StyleStore struct {
	conn DBConnection
	live *LiveQueryService
}

var _ domain.StyleRepository = (*StyleStore)(nil)

// NewStyleStore creates a StyleStore.
func NewStyleStore(conn DBConnection, live *LiveQueryService) *StyleStore {
	return &StyleStore{conn: conn, live: live}
}

const (
	getStyleQuery  = "SELECT * FROM type::thing('" + tableStyle + "', $sender_id)"
	saveStyleQuery = "UPSERT type::thing('" + tableStyle + "', $sender_id) CONTENT " +
		"{ sender_id: $sender_id, bubble_color: $bubble_color, font: $font, updated_at: time::now() }"
	liveStyleQuery = "LIVE SELECT * FROM " + tableStyle
)

// GetStyle returns the sender's override, or nil when none is stored.
func (s *StyleStore) GetStyle(ctx context.Context, senderID string) (*domain.StyleOverride, error) {
	rows, err := queryRows[styleRow](ctx, s.conn, "get style", getStyleQuery, map[string]any{"sender_id": senderID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(senderID), nil
}

// SaveStyle replaces the sender's override.
func (s *StyleStore) SaveStyle(ctx context.Context, style domain.StyleOverride) error {
	if style.SenderID == "" {
		return NewDBError(ErrInvalidInput, "save style: empty sender id")
	}
	_, err := writeRow[styleRow](ctx, s.conn, "save style", saveStyleQuery, map[string]any{
		"sender_id":    style.SenderID,
		"bubble_color": style.BubbleColor,
		"font":         style.Font,
	})
	return err
}

// SubscribeStyleChanges reports every created, updated or deleted override.
// A deletion is reported as an empty override, which means the default.
func (s *StyleStore) SubscribeStyleChanges(ctx context.Context, onChange func(domain.StyleOverride)) (domain.SubscriptionHandle, error) {
	return s.live.Subscribe(ctx, liveStyleQuery, nil, func(ctx context.Context, action LiveQueryAction, data any) {
		row, err := decodeStyle(data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping undecodable style change", "error", err)
			return
		}
		if action == ActionDelete {
			onChange(domain.StyleOverride{SenderID: row.SenderID})
			return
		}
		onChange(domain.StyleOverride{SenderID: row.SenderID, BubbleColor: row.BubbleColor, Font: row.Font})
	})
}

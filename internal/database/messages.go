package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// MessageStore reads and writes chat_message records and streams inserts
// through live queries. It implements domain.MessageRepository and
// domain.InsertSubscriber.
type MessageStore struct {
	conn DBConnection
	live *LiveQueryService
}

// NewMessageStore creates a MessageStore.
func NewMessageStore(conn DBConnection, live *LiveQueryService) *MessageStore {
	return &MessageStore{conn: conn, live: live}
}

var (
	_ domain.MessageRepository = (*MessageStore)(nil)
	_ domain.InsertSubscriber  = (*MessageStore)(nil)
)

// scopeColumn returns the column that holds the scope id. Only the two fixed
// column names are ever interpolated into queries.
func scopeColumn(key scope.Key) (string, error) {
	switch key.Kind() {
	case scope.KindRoom:
		return "room_id", nil
	case scope.KindStream:
		return "stream_id", nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidScope, key)
}

// listQuery builds the bulk fetch. The full form joins the sender's style and
// orders on the server; the simplified form does neither.
func listQuery(key scope.Key, simplified bool) (string, error) {
	col, err := scopeColumn(key)
	if err != nil {
		return "", err
	}
	if simplified {
		return fmt.Sprintf("SELECT * FROM %s WHERE %s = $scope_id LIMIT $limit", tableMessage, col), nil
	}
	return fmt.Sprintf(
		"SELECT *, (SELECT sender_id, bubble_color, font FROM %s WHERE sender_id = $parent.sender_id LIMIT 1)[0] AS style "+
			"FROM %s WHERE %s = $scope_id ORDER BY created_at DESC LIMIT $limit",
		tableStyle, tableMessage, col), nil
}

func insertQuery(key scope.Key) (string, error) {
	col, err := scopeColumn(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"CREATE %s SET %s = $scope_id, sender_id = $sender_id, kind = $kind, body = $body, created_at = time::now()",
		tableMessage, col), nil
}

func liveInsertQuery(key scope.Key) (string, error) {
	col, err := scopeColumn(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("LIVE SELECT * FROM %s WHERE %s = $scope_id", tableMessage, col), nil
}

// ListMessages returns up to opts.Limit recent messages of the scope.
func (s *MessageStore) ListMessages(ctx context.Context, key scope.Key, opts domain.ListOptions) ([]domain.ChatMessage, error) {
	query, err := listQuery(key, opts.Simplified)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := queryRows[messageRow](ctx, s.conn, "list messages", query, map[string]any{
		"scope_id": key.ID(),
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ChatMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toDomain()
		if err != nil {
			slog.WarnContext(ctx, "Skipping undecodable message row", "scope", key, "error", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// InsertMessage persists a text message and returns the stored row.
func (s *MessageStore) InsertMessage(ctx context.Context, key scope.Key, senderID, body string) (domain.ChatMessage, error) {
	query, err := insertQuery(key)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	params := map[string]any{
		"scope_id":  key.ID(),
		"sender_id": senderID,
		"kind":      string(domain.KindText),
		"body":      body,
	}

	row, err := writeRow[messageRow](ctx, s.conn, "insert message", query, params)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if row == nil {
		return domain.ChatMessage{}, NewDBError(ErrUnexpectedResult, "insert message returned no row").WithQuery(query)
	}
	return row.toDomain()
}

// SubscribeInserts streams rows created in the scope. Rows are delivered one
// at a time, in the order the server reports them.
func (s *MessageStore) SubscribeInserts(ctx context.Context, key scope.Key, onInsert func(domain.ChatMessage)) (domain.SubscriptionHandle, error) {
	query, err := liveInsertQuery(key)
	if err != nil {
		return nil, err
	}
	return s.live.Subscribe(ctx, query, map[string]any{"scope_id": key.ID()}, func(ctx context.Context, action LiveQueryAction, data any) {
		if action != ActionCreate {
			return
		}
		row, err := decodeMessage(data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping undecodable live message", "scope", key, "error", err)
			return
		}
		msg, err := row.toDomain()
		if err != nil {
			slog.WarnContext(ctx, "Dropping undecodable live message", "scope", key, "error", err)
			return
		}
		onInsert(msg)
	})
}

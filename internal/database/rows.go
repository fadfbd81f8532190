package database

import (
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/chatsync/internal/domain"
	"github.com/nfrund/chatsync/internal/scope"
)

// Table names.
const (
	tableMessage = "chat_message"
	tableStyle   = "chat_style"
	tableProfile = "profile"
	tableBlock   = "block"
)

// messageRow is a chat_message record. Exactly one of RoomID and StreamID is
// set.
type messageRow struct {
	ID        *models.RecordID       `json:"id,omitempty"`
	RoomID    *string                `json:"room_id,omitempty"`
	StreamID  *string                `json:"stream_id,omitempty"`
	SenderID  *string                `json:"sender_id,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	Body      string                 `json:"body"`
	CreatedAt *models.CustomDateTime `json:"created_at,omitempty"`
	Style     *styleRow              `json:"style,omitempty"`
}

// styleRow is a chat_style record, also used for the joined style of a
// message.
type styleRow struct {
	ID          *models.RecordID `json:"id,omitempty"`
	SenderID    string           `json:"sender_id,omitempty"`
	BubbleColor string           `json:"bubble_color,omitempty"`
	Font        string           `json:"font,omitempty"`
}

func (r messageRow) toDomain() (domain.ChatMessage, error) {
	if r.ID == nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: message without id", ErrUnexpectedResult)
	}
	key, err := scope.Resolve(deref(r.RoomID), deref(r.StreamID))
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("%w: message %s: %w", ErrUnexpectedResult, recordIDString(r.ID), err)
	}

	msg := domain.ChatMessage{
		ID:       recordIDString(r.ID),
		ScopeKey: key,
		SenderID: deref(r.SenderID),
		Kind:     domain.MessageKind(r.Kind),
		Body:     r.Body,
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindText
	}
	if msg.SenderID == "" {
		msg.Kind = domain.KindSystem
	}
	if r.CreatedAt != nil {
		msg.CreatedAt = r.CreatedAt.Time
	}
	if r.Style != nil && msg.SenderID != "" {
		msg.Style = r.Style.toDomain(msg.SenderID)
	}
	return msg, nil
}

// toDomain returns nil when the row carries no override.
func (r *styleRow) toDomain(senderID string) *domain.StyleOverride {
	if r == nil || (r.BubbleColor == "" && r.Font == "") {
		return nil
	}
	if r.SenderID != "" {
		senderID = r.SenderID
	}
	return &domain.StyleOverride{SenderID: senderID, BubbleColor: r.BubbleColor, Font: r.Font}
}

// decodeMessage converts a live notification payload into a messageRow.
// Payloads arrive as generic maps; ids and datetimes may be SDK model types
// or plain strings depending on the server version.
func decodeMessage(data any) (messageRow, error) {
	m, ok := asMap(data)
	if !ok {
		return messageRow{}, fmt.Errorf("%w: %T", ErrUnexpectedResult, data)
	}

	var row messageRow
	id, err := toRecordID(m["id"])
	if err != nil {
		return messageRow{}, err
	}
	row.ID = id
	row.RoomID = optString(m["room_id"])
	row.StreamID = optString(m["stream_id"])
	row.SenderID = optString(m["sender_id"])
	row.Kind, _ = m["kind"].(string)
	row.Body, _ = m["body"].(string)
	if t, ok := toTime(m["created_at"]); ok {
		row.CreatedAt = &models.CustomDateTime{Time: t}
	}
	return row, nil
}

// decodeStyle converts a live notification payload into a styleRow.
func decodeStyle(data any) (styleRow, error) {
	m, ok := asMap(data)
	if !ok {
		return styleRow{}, fmt.Errorf("%w: %T", ErrUnexpectedResult, data)
	}
	var row styleRow
	row.SenderID, _ = m["sender_id"].(string)
	row.BubbleColor, _ = m["bubble_color"].(string)
	row.Font, _ = m["font"].(string)
	if row.SenderID == "" {
		if id, err := toRecordID(m["id"]); err == nil {
			row.SenderID = fmt.Sprint(id.ID)
		}
	}
	if row.SenderID == "" {
		return styleRow{}, fmt.Errorf("%w: style without sender", ErrUnexpectedResult)
	}
	return row, nil
}

func asMap(data any) (map[string]any, bool) {
	switch v := data.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if s, ok := k.(string); ok {
				out[s] = val
			}
		}
		return out, true
	}
	return nil, false
}

func toRecordID(v any) (*models.RecordID, error) {
	switch id := v.(type) {
	case models.RecordID:
		return &id, nil
	case *models.RecordID:
		if id != nil {
			return id, nil
		}
	case string:
		if table, key, ok := splitRecordID(id); ok {
			rid := models.NewRecordID(table, key)
			return &rid, nil
		}
	}
	return nil, fmt.Errorf("%w: record id %v (%T)", ErrUnexpectedResult, v, v)
}

func splitRecordID(s string) (table, key string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case models.CustomDateTime:
		return t.Time, true
	case *models.CustomDateTime:
		if t != nil {
			return t.Time, true
		}
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func recordIDString(id *models.RecordID) string {
	if id == nil {
		return ""
	}
	return fmt.Sprintf("%s:%v", id.Table, id.ID)
}

func optString(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

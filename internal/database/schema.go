package database

import (
	"context"
	"log/slog"

	"github.com/surrealdb/surrealdb.go"
)

// schema defines the tables and indexes used by the stores. Statements are
// idempotent.
var schema = []string{
	"DEFINE TABLE IF NOT EXISTS " + tableMessage + " SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS chat_message_room ON " + tableMessage + " FIELDS room_id, created_at",
	"DEFINE INDEX IF NOT EXISTS chat_message_stream ON " + tableMessage + " FIELDS stream_id, created_at",
	// A message belongs to a room or a stream, never both and never neither.
	"DEFINE EVENT IF NOT EXISTS chat_message_scope ON " + tableMessage +
		" WHEN $event = 'CREATE' THEN { IF ($after.room_id = NONE) = ($after.stream_id = NONE) { THROW 'exactly one of room_id or stream_id must be set' } }",
	"DEFINE TABLE IF NOT EXISTS " + tableStyle + " SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS chat_style_sender ON " + tableStyle + " FIELDS sender_id UNIQUE",
	"DEFINE TABLE IF NOT EXISTS " + tableProfile + " SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS " + tableBlock + " SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS block_pair ON " + tableBlock + " FIELDS blocker_id, blocked_id UNIQUE",
}

// Migrate applies the schema.
func Migrate(ctx context.Context, conn DBConnection) error {
	ctx, cancel := withTimeout(ctx, conn.GetDBExecuteTimeout(), executeTimeoutKey)
	defer cancel()

	return conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		for _, stmt := range schema {
			if err := Execute(ctx, db, stmt, nil); err != nil {
				return NewDBError(err, "migrate").WithQuery(stmt)
			}
		}
		slog.InfoContext(ctx, "Database schema applied", "statements", len(schema))
		return nil
	})
}

package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"

	"github.com/nfrund/chatsync/internal/testutils"
)

// setupTestDB connects to the test database and applies the schema. It skips
// the calling test when no database is configured.
func setupTestDB(t *testing.T) (*Connection, func()) {
	t.Helper()

	cfg := testutils.ConfigForTests(t)
	ctx := context.Background()
	conn := NewConnection(cfg)
	require.NoError(t, conn.Connect(ctx), "failed to connect to test database")
	require.NoError(t, Migrate(ctx, conn))

	return conn, func() {
		_ = conn.WithConnection(context.Background(), func(db *surrealdb.DB) error {
			for _, table := range []string{tableMessage, tableStyle, tableProfile, tableBlock} {
				_, _ = surrealdb.Query[any](context.Background(), db, "DELETE "+table, nil)
			}
			return nil
		})
		_ = conn.Close(context.Background())
	}
}

// Package testutils holds helpers shared by tests: configuration for the
// database integration suites and an in-memory backend for engine tests.
package testutils

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/chatsync/internal/config"
	"github.com/nfrund/chatsync/internal/logging"
)

// ConfigForTests applies the project's .env.test to the test environment
// and returns the resulting configuration. It skips the test when no
// database is configured either way.
func ConfigForTests(t *testing.T) config.Provider {
	t.Helper()

	if root, ok := projectRoot(); ok {
		if env, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
			for key, value := range env {
				t.Setenv(key, value)
			}
		}
	}
	if os.Getenv("SURREAL_URL") == "" {
		t.Skip("SURREAL_URL not set")
	}

	logging.Setup(io.Discard, "text", "error")

	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}

// projectRoot walks up from the working directory to the one holding go.mod.
func projectRoot() (string, bool) {
	path, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, true
		}
		if path == filepath.Dir(path) {
			return "", false
		}
		path = filepath.Dir(path)
	}
}

// RecordID returns the record id table:id as the driver decodes it. An
// empty id gets a random one.
func RecordID(table, id string) *surrealmodels.RecordID {
	if id == "" {
		id = uuid.NewString()
	}
	rid := surrealmodels.NewRecordID(table, id)
	return &rid
}

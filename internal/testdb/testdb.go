package testdb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/phrazzld/coursegen/internal/platform/postgres"
	"github.com/phrazzld/coursegen/internal/redact"
)

// Environment variables that enable integration tests.
const (
	PostgresURLEnv = "COURSEGEN_TEST_POSTGRES_URL"
	RedisAddrEnv   = "COURSEGEN_TEST_REDIS_ADDR"
)

// ShouldSkipPostgresTest reports whether no test database is configured.
func ShouldSkipPostgresTest() bool {
	return os.Getenv(PostgresURLEnv) == ""
}

// PostgresWithT returns a migrated connection to the test database and
// closes it when the test ends. The test is skipped when PostgresURLEnv is
// not set.
func PostgresWithT(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv(PostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set, skipping PostgreSQL integration test", PostgresURLEnv)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect to %s: %s", redact.String(url), redact.Error(err))
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := postgres.Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("failed to migrate test database: %s", redact.Error(err))
	}
	return db
}

// RedisAddrWithT returns the test Redis address, skipping the test when
// RedisAddrEnv is not set.
func RedisAddrWithT(t *testing.T) string {
	t.Helper()
	addr := os.Getenv(RedisAddrEnv)
	if addr == "" {
		t.Skipf("%s not set, skipping Redis integration test", RedisAddrEnv)
	}
	return addr
}

// UniqueKey returns a snapshot key no other test run uses.
func UniqueKey() string {
	return "coursegen-test-" + uuid.NewString()
}

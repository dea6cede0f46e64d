package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" database/sql driver
	"github.com/phrazzld/coursegen/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS engine_snapshots (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);`

// SnapshotStore implements store.SnapshotStore on a SQLite file.
type SnapshotStore struct {
	db     *sql.DB
	key    string
	logger *slog.Logger
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// Open opens (or creates) the database at path and ensures the schema
// exists. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path, key string, logger *slog.Logger) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create snapshot table: %w", err)
	}

	return &SnapshotStore{
		db:     db,
		key:    key,
		logger: logger.With("component", "sqlite_snapshot_store", "path", path),
	}, nil
}

// Load implements store.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM engine_snapshots WHERE key = ?`,
		s.key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSnapshotNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load snapshot", "key", s.key, "error", err)
		return nil, store.NewStoreError("sqlite", "load", "failed to read snapshot", err)
	}
	return data, nil
}

// Save implements store.SnapshotStore.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return store.ErrEmptySnapshot
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_snapshots (key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.key, data, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save snapshot", "key", s.key, "error", err)
		return store.NewStoreError("sqlite", "save", "failed to write snapshot", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/coursegen/internal/store"
)

// SnapshotStore implements store.SnapshotStore on the engine_snapshots table.
type SnapshotStore struct {
	db     store.DBTX
	key    string
	logger *slog.Logger
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a SnapshotStore for key.
func NewSnapshotStore(db store.DBTX, key string, logger *slog.Logger) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		key:    key,
		logger: logger.With("component", "postgres_snapshot_store"),
	}
}

// Load implements store.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM engine_snapshots WHERE key = $1`,
		s.key,
	).Scan(&data)
	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrSnapshotNotFound) {
			return nil, mapped
		}
		s.logger.ErrorContext(ctx, "failed to load snapshot", "key", s.key, "error", err)
		return nil, store.NewStoreError("postgres", "load", "failed to read snapshot", mapped)
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
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`, s.key, string(data), time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save snapshot", "key", s.key, "error", err)
		return store.NewStoreError("postgres", "save", "failed to write snapshot", MapError(err))
	}
	return nil
}

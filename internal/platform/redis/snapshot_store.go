package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/coursegen/internal/store"
)

// commander is the subset of the go-redis client the store uses.
type commander interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// SnapshotStore implements store.SnapshotStore on a single Redis string key.
type SnapshotStore struct {
	rdb    commander
	key    string
	logger *slog.Logger
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

// Connect creates a client and verifies it with a ping.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewSnapshotStore creates a SnapshotStore for key.
func NewSnapshotStore(rdb commander, key string, logger *slog.Logger) *SnapshotStore {
	return &SnapshotStore{
		rdb:    rdb,
		key:    key,
		logger: logger.With("component", "redis_snapshot_store"),
	}
}

// Load implements store.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrSnapshotNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load snapshot", "key", s.key, "error", err)
		return nil, store.NewStoreError("redis", "load", "failed to read snapshot", err)
	}
	return data, nil
}

// Save implements store.SnapshotStore. The key never expires.
func (s *SnapshotStore) Save(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return store.ErrEmptySnapshot
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		s.logger.ErrorContext(ctx, "failed to save snapshot", "key", s.key, "error", err)
		return store.NewStoreError("redis", "save", "failed to write snapshot", err)
	}
	return nil
}

package store

import (
	"context"
	"sync"
)

// DefaultSnapshotKey is the fixed key the engine state is stored under.
const DefaultSnapshotKey = "course-generation-state-v1"

// SnapshotStore persists a single opaque snapshot blob.
type SnapshotStore interface {
	// Load returns the last saved blob, or ErrSnapshotNotFound.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored blob.
	Save(ctx context.Context, data []byte) error
}

// MemorySnapshotStore keeps the snapshot in process memory. It is used in
// tests and when persistence is disabled.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

// Load implements SnapshotStore.
func (s *MemorySnapshotStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), s.data...), nil
}

// Save implements SnapshotStore.
func (s *MemorySnapshotStore) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptySnapshot
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

// Saves returns how many times Save succeeded.
func (s *MemorySnapshotStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

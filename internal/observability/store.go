package observability

import (
	"context"
	"errors"

	"github.com/phrazzld/coursegen/internal/store"
)

type countingStore struct {
	store.SnapshotStore
	metrics *Metrics
}

// CountSnapshotErrors wraps s so that failed loads and saves increment
// SnapshotErrors. A missing snapshot is not a failure.
func (m *Metrics) CountSnapshotErrors(s store.SnapshotStore) store.SnapshotStore {
	return &countingStore{SnapshotStore: s, metrics: m}
}

func (c *countingStore) Load(ctx context.Context) ([]byte, error) {
	data, err := c.SnapshotStore.Load(ctx)
	if err != nil && !errors.Is(err, store.ErrSnapshotNotFound) {
		c.metrics.SnapshotErrors.Inc()
	}
	return data, err
}

func (c *countingStore) Save(ctx context.Context, data []byte) error {
	err := c.SnapshotStore.Save(ctx, data)
	if err != nil {
		c.metrics.SnapshotErrors.Inc()
	}
	return err
}

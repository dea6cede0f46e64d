// Package redis provides a Redis-backed store.SnapshotStore, for deployments
// where several engine processes share one Redis and the snapshot should
// outlive the local disk.
package redis

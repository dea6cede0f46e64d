// Package store defines the persistence contract for engine snapshots.
// The engine serializes its whole state into one versioned JSON blob and
// hands it to a SnapshotStore; implementations decide where the blob lives
// (process memory, a SQLite file, a Postgres table or a Redis key) without
// the engine knowing which one is in use.
package store

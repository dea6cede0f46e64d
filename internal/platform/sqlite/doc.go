// Package sqlite provides a SQLite-backed store.SnapshotStore. It is the
// default durable store: a single local file, no server, pure-Go driver.
package sqlite

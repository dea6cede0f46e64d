// Package postgres provides the PostgreSQL implementation of store.SnapshotStore.
// It opens connections through the pgx stdlib driver, applies its embedded
// goose migrations on startup and keeps each snapshot as one JSONB row keyed
// by the snapshot key.
package postgres

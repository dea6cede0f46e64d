package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/coursegen/internal/store"
)

// PostgreSQL error codes
const (
	// undefinedTableCode is returned when migrations have not been applied
	undefinedTableCode = "42P01"

	// invalidTextRepresentationCode is returned for malformed JSONB input
	invalidTextRepresentationCode = "22P02"
)

// ErrSchemaMissing is returned when the snapshot table does not exist.
var ErrSchemaMissing = errors.New("snapshot schema missing, run migrations")

// MapError maps a database error to an appropriate store error.
// It wraps the original error to preserve context.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrSnapshotNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case undefinedTableCode:
			return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
		case invalidTextRepresentationCode:
			return fmt.Errorf("invalid snapshot payload: %w", err)
		}
	}

	return err
}

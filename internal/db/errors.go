package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gridsight/arbiter-api/internal/models"
)

// MapError translates PostgreSQL constraint violations into the domain
// error taxonomy. A unique violation means a conflicting record already
// exists; a foreign key violation on delete means dependents still
// reference the row, while on insert it means the referenced row is gone
// (or was never visible to the caller).
func MapError(err error, onInsert bool) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return models.ErrConflict
	case "23503": // foreign_key_violation
		if onInsert {
			return models.ErrNotFound
		}
		return models.ErrDeleteRestricted
	case "23514": // check_violation
		return models.ErrConflict
	}
	return err
}

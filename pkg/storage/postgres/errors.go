package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/porthorian/orgauthz/pkg/storage"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// mapWriteError translates constraint violations into storage sentinels and
// returns every other error unchanged.
func mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgErrUniqueViolation:
		return errors.Join(storage.ErrConflict, err)
	case pgErrForeignKeyViolation:
		return errors.Join(storage.ErrNotFound, err)
	default:
		return err
	}
}

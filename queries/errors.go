package queries

import (
	"errors"

	"github.com/jackc/pgconn"
	pkgerrors "github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"gorm.io/gorm"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// mapError translates driver errors into the store sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return pkgerrors.Wrap(store.ErrConflict, pgErr.Message)
		case pgUniqueViolation:
			return pkgerrors.Wrap(store.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(mapError(err), msg)
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}

// conflict turns a lost insert race into a retryable conflict
func conflict(err error) error {
	return pkgerrors.Wrap(store.ErrConflict, err.Error())
}

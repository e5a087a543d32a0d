package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
)

const (
	codeSerializationFailure = "40001"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
	codeInvalidText          = "22P02"
	codeForeignKeyViolation  = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsConflict reports an exclusion constraint violation on appointment items.
func IsConflict(err error) bool {
	return pgCode(err) == codeExclusionViolation
}

func IsSerializationFailure(err error) bool {
	return pgCode(err) == codeSerializationFailure
}

func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// translate maps driver errors onto the booking sentinels. Malformed ids and dangling
// references cannot match a row, so they read as not found.
func translate(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err), pgCode(err) == codeInvalidText, pgCode(err) == codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", what, booking.ErrNotFound)
	case IsConflict(err), IsSerializationFailure(err):
		return fmt.Errorf("%s: %w", what, &booking.ConflictError{})
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

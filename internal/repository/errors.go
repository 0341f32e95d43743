package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStaleState is returned by conditional updates when the stored record
	// no longer has the expected state.
	ErrStaleState = errors.New("record state changed")
	// ErrDuplicate is returned when a record with the same key already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrBalanceExceeded is returned when a refund would take more than what
	// is left of the order total.
	ErrBalanceExceeded = errors.New("refund exceeds order balance")
)

const uniqueViolation = "23505"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NormalizePage clamps pagination values to sane bounds.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

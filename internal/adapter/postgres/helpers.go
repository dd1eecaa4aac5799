package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/projectchat/internal/domain"
)

// PostgreSQL error codes the store distinguishes.
const (
	codeForeignKeyViolation = "23503"
	codeInvalidTextRep      = "22P02"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// notFoundWrap checks whether err means the row does not exist (no rows, or a
// malformed UUID that can never match) and, if so, wraps domain.ErrNotFound
// with the given message. Otherwise it wraps the original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) || hasCode(err, codeInvalidTextRep) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// persistenceWrap classifies a conversation log failure. An append to a
// project that does not exist is ErrNotFound; everything else is ErrPersistence.
func persistenceWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if hasCode(err, codeForeignKeyViolation) || hasCode(err, codeInvalidTextRep) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", msg, domain.ErrPersistence, err)
}

// execExpectOne verifies that an Exec affected exactly one row. If not
// (and err is nil), it returns domain.ErrNotFound with the given message.
func execExpectOne(tag pgconn.CommandTag, err error, format string, args ...any) error {
	if err != nil {
		return notFoundWrap(err, format, args...)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", domain.ErrNotFound)
	}
	return nil
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

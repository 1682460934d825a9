package shortener

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const shortCodeConstraint = "links_short_code_unique"

func isShortCodeUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" &&
		pgErr.ConstraintName == shortCodeConstraint
}

// SQLite and libSQL both report unique failures as text naming the column.
func isSQLiteShortCodeViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") &&
		strings.Contains(msg, "links.short_code")
}

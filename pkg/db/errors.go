package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories branch on.
const (
	sqlStateUniqueViolation = "23505"
)

// IsUniqueViolation reports whether err is a unique-constraint failure. A
// non-empty constraint narrows the match to that index. Postgres errors are
// matched by SQLSTATE; sqlite only surfaces a message.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if code, name, ok := pgDetails(err); ok {
		return code == sqlStateUniqueViolation && (constraint == "" || name == constraint)
	}

	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "duplicate key value") {
		return false
	}
	return constraint == "" || strings.Contains(msg, constraint)
}

func pgDetails(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

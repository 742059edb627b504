package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the typed code, the
// unwrap chain, and the Postgres diagnostics when a driver error is inside.
// The result is for logs only and must never reach a response body.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error_code": CodeOf(err)}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields["error_chain"] = chain

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		addPG(fields, pgxErr.Code, pgxErr.TableName, pgxErr.ConstraintName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		addPG(fields, string(pqErr.Code), pqErr.Table, pqErr.Constraint, pqErr.Detail)
	}
	return fields
}

func addPG(fields map[string]any, code, table, constraint, detail string) {
	fields["pg_code"] = code
	if table != "" {
		fields["pg_table"] = table
	}
	if constraint != "" {
		fields["pg_constraint"] = constraint
	}
	if detail != "" {
		fields["pg_detail"] = detail
	}
}

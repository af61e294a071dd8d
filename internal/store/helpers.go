package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the adapter maps to structured kinds.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgRLSViolation        = "42501"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool     { return pgErrCode(err) == pgUniqueViolation }
func isForeignKeyViolation(err error) bool { return pgErrCode(err) == pgForeignKeyViolation }
func isCheckViolation(err error) bool      { return pgErrCode(err) == pgCheckViolation }

// isPolicyViolation reports whether the row-level policies rejected the
// statement ("new row violates row-level security policy").
func isPolicyViolation(err error) bool {
	return pgErrCode(err) == pgRLSViolation
}

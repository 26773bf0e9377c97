package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/tessera/internal/errs"
)

// PostgreSQL SQLSTATE codes the session layer cares about.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassIntegrity       = "23"
	pgClassConnection      = "08"
	pgClassAuth            = "28"
	pgAdminShutdown        = "57P01"
	pgCrashShutdown        = "57P02"
	pgUndefinedTable       = "42P01"
	pgUndefinedObject      = "42704"
	pgDuplicateTable       = "42P07"
	pgDuplicateObject      = "42710"
	pgInvalidCatalogName   = "3D000"
	pgConnectionNotExisted = "08003"
)

// BenignCodes is empty: any error aborts a PostgreSQL transaction block,
// so every failure inside one dooms it.
var BenignCodes = []string{}

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.WrapCode(
			classifySQLState(pgErr.Code),
			pgErr.Code,
			fmt.Sprintf("%s: %s", msg, pgErr.Message),
			err,
		)
	}

	// The request never reached the server or the link broke under it.
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindConnectionDropped, msg, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	if strings.Contains(err.Error(), "conn closed") {
		return errs.Wrap(errs.ErrKindConnectionDropped, msg, err)
	}
	return errs.Wrap(errs.ErrKindDriver, msg, err)
}

func classifySQLState(code string) errs.ErrKind {
	switch code {
	case pgUndefinedTable, pgUndefinedObject:
		return errs.ErrKindObjectNotFound
	case pgDuplicateTable, pgDuplicateObject:
		return errs.ErrKindObjectExists
	case pgAdminShutdown, pgCrashShutdown, pgConnectionNotExisted:
		return errs.ErrKindConnectionDropped
	case pgInvalidCatalogName:
		return errs.ErrKindConnectionFailed
	}
	switch {
	case strings.HasPrefix(code, pgClassIntegrity):
		return errs.ErrKindIntegrityViolation
	case strings.HasPrefix(code, pgClassConnection):
		return errs.ErrKindConnectionDropped
	case strings.HasPrefix(code, pgClassAuth):
		return errs.ErrKindConnectionFailed
	}
	return errs.ErrKindDriver
}

package mysql

import (
	"errors"
	"fmt"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/tessera/internal/database/sqlconn"
	"github.com/koustreak/tessera/internal/errs"
)

// MySQL / MariaDB error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDuplicateEntry    = 1062
	errNoReferencedRow   = 1452
	errRowIsReferenced   = 1451
	errNoReferencedRowV1 = 1216
	errRowIsReferencedV1 = 1217
	errBadNull           = 1048
	errTableExists       = 1050
	errUnknownTable      = 1051
	errDuplicateKeyName  = 1061
	errCantDropField     = 1091
	errNoSuchTable       = 1146
	errUnknownSequence   = 4091
	errAccessDenied      = 1045
	errDBAccessDenied    = 1044
	errUnknownDatabase   = 1049
	errTooManyConns      = 1040
	errConnRefused       = 2003
	errServerGone        = 2006
	errServerLost        = 2013
)

// BenignCodes are the "not found / already exists" numbers.
var BenignCodes = []string{
	strconv.Itoa(errTableExists),
	strconv.Itoa(errUnknownTable),
	strconv.Itoa(errCantDropField),
	strconv.Itoa(errNoSuchTable),
	strconv.Itoa(errUnknownSequence),
}

// mapError translates go-sql-driver/mysql errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}

	if sqlconn.Aborted(err) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.WrapCode(
			classifyMySQLCode(mysqlErr.Number),
			strconv.Itoa(int(mysqlErr.Number)),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	if errors.Is(err, gomysql.ErrInvalidConn) || sqlconn.Dropped(err) {
		return errs.Wrap(errs.ErrKindConnectionDropped, msg, err)
	}
	return errs.Wrap(errs.ErrKindDriver, msg, err)
}

// classifyMySQLCode maps MySQL error numbers to ErrKind.
func classifyMySQLCode(code uint16) errs.ErrKind {
	switch code {
	case errDuplicateEntry, errNoReferencedRow, errRowIsReferenced,
		errNoReferencedRowV1, errRowIsReferencedV1, errBadNull:
		return errs.ErrKindIntegrityViolation
	case errUnknownTable, errCantDropField, errNoSuchTable, errUnknownSequence:
		return errs.ErrKindObjectNotFound
	case errTableExists, errDuplicateKeyName:
		return errs.ErrKindObjectExists
	case errAccessDenied, errDBAccessDenied, errUnknownDatabase, errTooManyConns, errConnRefused:
		return errs.ErrKindConnectionFailed
	case errServerGone, errServerLost:
		return errs.ErrKindConnectionDropped
	default:
		return errs.ErrKindDriver
	}
}

package mssql

import (
	"errors"
	"fmt"
	"strconv"

	mssqldb "github.com/denisenkom/go-mssqldb"

	"github.com/koustreak/tessera/internal/database/sqlconn"
	"github.com/koustreak/tessera/internal/errs"
)

// SQL Server error numbers
// Full list: https://learn.microsoft.com/sql/relational-databases/errors-events/database-engine-events-and-errors
const (
	errNullNotAllowed      = 515
	errConstraintConflict  = 547
	errDuplicateKeyIndex   = 2601
	errDuplicateKeyUnique  = 2627
	errInvalidObjectName   = 208
	errCannotDropMissing   = 3701
	errObjectMissing       = 4902
	errRenameTargetMissing = 15248
	errObjectExists        = 2714
	errIndexExists         = 1913
	errPrimaryKeyExists    = 1779
	errCannotOpenDatabase  = 4060
	errLoginFailed         = 18456
	errTransportLevel      = 10054
	errSessionKilled       = 596
)

// BenignCodes are the "not found / already exists" numbers that leave a
// transaction committable.
var BenignCodes = []string{
	strconv.Itoa(errInvalidObjectName),
	strconv.Itoa(errCannotDropMissing),
	strconv.Itoa(errObjectMissing),
	strconv.Itoa(errRenameTargetMissing),
	strconv.Itoa(errObjectExists),
	strconv.Itoa(errIndexExists),
}

// mapError translates go-mssqldb errors into *errs.Error.
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

	if number, text, ok := serverError(err); ok {
		return errs.WrapCode(
			classifyNumber(number),
			strconv.Itoa(int(number)),
			fmt.Sprintf("%s: %s", msg, text),
			err,
		)
	}

	if sqlconn.Dropped(err) {
		return errs.Wrap(errs.ErrKindConnectionDropped, msg, err)
	}
	return errs.Wrap(errs.ErrKindDriver, msg, err)
}

func serverError(err error) (int32, string, bool) {
	var value mssqldb.Error
	if errors.As(err, &value) {
		return value.Number, value.Message, true
	}
	var ptr *mssqldb.Error
	if errors.As(err, &ptr) {
		return ptr.Number, ptr.Message, true
	}
	return 0, "", false
}

// classifyNumber maps SQL Server error numbers to ErrKind.
func classifyNumber(number int32) errs.ErrKind {
	switch number {
	case errDuplicateKeyUnique, errDuplicateKeyIndex, errConstraintConflict, errNullNotAllowed:
		return errs.ErrKindIntegrityViolation
	case errInvalidObjectName, errCannotDropMissing, errObjectMissing, errRenameTargetMissing:
		return errs.ErrKindObjectNotFound
	case errObjectExists, errIndexExists, errPrimaryKeyExists:
		return errs.ErrKindObjectExists
	case errLoginFailed, errCannotOpenDatabase:
		return errs.ErrKindConnectionFailed
	case errTransportLevel, errSessionKilled:
		return errs.ErrKindConnectionDropped
	default:
		return errs.ErrKindDriver
	}
}

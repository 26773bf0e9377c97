package mssql

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"

	mssqldb "github.com/denisenkom/go-mssqldb"
	"github.com/stretchr/testify/assert"

	"github.com/koustreak/tessera/internal/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind errs.ErrKind
		code string
	}{
		{"unique violation", mssqldb.Error{Number: 2627, Message: "Violation of UNIQUE KEY"}, errs.ErrKindIntegrityViolation, "2627"},
		{"duplicate index row", mssqldb.Error{Number: 2601}, errs.ErrKindIntegrityViolation, "2601"},
		{"fk conflict wrapped", fmt.Errorf("exec: %w", mssqldb.Error{Number: 547}), errs.ErrKindIntegrityViolation, "547"},
		{"missing object", mssqldb.Error{Number: 208}, errs.ErrKindObjectNotFound, "208"},
		{"object exists", mssqldb.Error{Number: 2714}, errs.ErrKindObjectExists, "2714"},
		{"login failed", mssqldb.Error{Number: 18456}, errs.ErrKindConnectionFailed, "18456"},
		{"syntax", mssqldb.Error{Number: 102}, errs.ErrKindDriver, "102"},
		{"bad conn", driver.ErrBadConn, errs.ErrKindConnectionDropped, ""},
		{"canceled", context.Canceled, errs.ErrKindConnectionFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := mapError(tt.err, "execute failed")
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.code, e.Code)
		})
	}
	assert.Nil(t, mapError(nil, "x"))
}

func TestMapError_PassesThroughClassified(t *testing.T) {
	in := errs.New(errs.ErrKindDriver, "already mapped")
	assert.Same(t, in, mapError(in, "again"))
}

func TestDialect(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "[dbo].[we]]ird]", d.QuoteIdent("dbo.we]ird"))
	assert.Equal(t, "SELECT NEXT VALUE FOR [seq_users]", d.NextSequenceValue("seq_users"))
	assert.Equal(t, "CREATE SEQUENCE [seq_users] AS bigint START WITH 12 INCREMENT BY 1 MINVALUE 11", d.CreateSequence("seq_users", 12, 11))
	assert.Equal(t, "ALTER SEQUENCE [seq_users] RESTART WITH 11", d.RestartSequence("seq_users", 11))
	assert.Contains(t, d.BenignCodes(), "208")
}

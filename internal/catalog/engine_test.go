package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
	"github.com/koustreak/tessera/internal/session"
)

func withVersion(c *fakeConn, engineEdition int64) *fakeConn {
	return c.on("SERVERPROPERTY", fixed(result(
		[]string{"version", "edition", "engine_edition"},
		[]any{"16.0.4135.4", "Developer Edition (64-bit)", engineEdition},
	)))
}

// withSettings scripts the per-setting user option queries.
func withSettings(c *fakeConn) *fakeConn {
	return c.on("@@TEXTSIZE", fixed(result([]string{""}, []any{"2147483647"}))).
		on("@@LANGUAGE", fixed(result([]string{""}, []any{"us_english"}))).
		on("sys.syslanguages", fixed(result([]string{""}, []any{"mdy"}))).
		on("@@DATEFIRST", fixed(result([]string{""}, []any{"7"}))).
		on("@@LOCK_TIMEOUT", fixed(result([]string{""}, []any{"-1"}))).
		on("transaction_isolation_level", fixed(result([]string{""}, []any{"read committed"}))).
		on("@@OPTIONS", fixed(result([]string{""}, []any{int64(8 | 32 | 256)})))
}

func TestEngineVersion_Cached(t *testing.T) {
	ctx := context.Background()
	c := withVersion(&fakeConn{}, 3)
	cat := mustNew(session.New(c, nil))

	v, err := cat.EngineVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, v.Major)
	assert.False(t, v.IsAzure())

	_, err = cat.EngineVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.count("SERVERPROPERTY"))
}

func TestUserOptions_Diagnostic(t *testing.T) {
	ctx := context.Background()
	c := withVersion(&fakeConn{}, 3).
		on("DBCC USEROPTIONS", fixed(result([]string{"Set Option", "Value"},
			[]any{"textsize", "2147483647"},
			[]any{"language", "us_english"},
			[]any{"dateformat", "mdy"},
			[]any{"datefirst", "7"},
			[]any{"lock_timeout", "-1"},
			[]any{"quoted_identifier", "SET"},
			[]any{"ANSI_NULLS", "SET"},
			[]any{"isolation level", "read committed snapshot"},
		)))
	cat := mustNew(session.New(c, nil))

	opts, err := cat.UserOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, UserOptions{
		TextSize:         2147483647,
		Language:         "us_english",
		DateFormat:       "mdy",
		DateFirst:        7,
		LockTimeout:      -1,
		IsolationLevel:   database.IsolationReadCommitted,
		QuotedIdentifier: true,
		AnsiNulls:        true,
	}, opts)

	_, err = cat.UserOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.count("DBCC"))
}

func TestUserOptions_FallsBackWhenDiagnosticFails(t *testing.T) {
	ctx := context.Background()
	c := withSettings(withVersion(&fakeConn{}, 3).
		on("DBCC USEROPTIONS", func([]any) (*database.ResultSet, error) {
			return nil, errs.WrapCode(errs.ErrKindDriver, "2571", "permission denied", nil)
		}))
	cat := mustNew(session.New(c, nil))

	opts, err := cat.UserOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "us_english", opts.Language)
	assert.Equal(t, "mdy", opts.DateFormat)
	assert.Equal(t, int64(2147483647), opts.TextSize)
	assert.Equal(t, 7, opts.DateFirst)
	assert.Equal(t, int64(-1), opts.LockTimeout)
	assert.Equal(t, database.IsolationReadCommitted, opts.IsolationLevel)
	assert.True(t, opts.AnsiWarnings)
	assert.True(t, opts.AnsiNulls)
	assert.True(t, opts.QuotedIdentifier)
	assert.False(t, opts.ArithAbort)
	assert.False(t, opts.ConcatNullYieldsNull)
}

func TestIsolationFromEngine(t *testing.T) {
	tests := map[string]database.IsolationLevel{
		"read committed":          database.IsolationReadCommitted,
		"Read Committed Snapshot": database.IsolationReadCommitted,
		"read uncommitted":        database.IsolationReadUncommitted,
		"repeatable read":         database.IsolationRepeatableRead,
		"serializable":            database.IsolationSerializable,
		"snapshot":                database.IsolationSnapshot,
		"unspecified":             database.IsolationDefault,
	}
	for in, want := range tests {
		assert.Equal(t, want, isolationFromEngine(in), in)
	}
}

func TestUserOptions_NoDiagnosticInTransactionOrOnAzure(t *testing.T) {
	ctx := context.Background()

	c := withSettings(withVersion(&fakeConn{}, 3))
	sess := session.New(c, nil)
	cat := mustNew(sess)
	require.NoError(t, sess.Begin(ctx))
	_, err := cat.UserOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.count("DBCC"))
	assert.Equal(t, session.StateActive, sess.State())

	c = withSettings(withVersion(&fakeConn{}, engineEditionAzure))
	cat = mustNew(session.New(c, nil))
	_, err = cat.UserOptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, c.count("DBCC"))
}

func TestRecoveryModel(t *testing.T) {
	ctx := context.Background()
	c := (&fakeConn{}).on("recovery_model_desc", fixed(result([]string{""}, []any{"SIMPLE"})))
	cat := mustNew(session.New(c, nil))

	m, err := cat.RecoveryModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.RecoverySimple, m)

	m, err = cat.RecoveryModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.RecoverySimple, m)
	assert.Equal(t, 1, c.count("recovery_model_desc"))
}

func TestCommentGet(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()
	c.on("fn_listextendedproperty", func(args []any) (*database.ResultSet, error) {
		if args[3] == "COLUMN" {
			return result([]string{""}), nil
		}
		return result([]string{""}, []any{"Customer orders"}), nil
	})

	v, ok, err := cat.CommentGet(ctx, "orders", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Customer orders", v)

	_, ok, err = cat.CommentGet(ctx, "orders", "qty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommentCreate_MemoWithinTransaction(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()
	c.on("fn_listextendedproperty", fixed(result([]string{""})))
	c.on("sp_", fixed(&database.ResultSet{}))
	sess := cat.Session()

	require.NoError(t, sess.Begin(ctx))

	ddl, err := cat.CommentCreate(ctx, "orders", "qty", "Units ordered")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ddl, "EXEC sp_addextendedproperty"))
	assert.Contains(t, ddl, "@level2name = N'qty'")
	require.NoError(t, cat.Comment(ctx, "orders", "qty", "Units ordered"))
	assert.Empty(t, c.execs, "repeat of the same comment is redundant")

	// The engine still reports no property; the memo knows better.
	ddl, err = cat.CommentCreate(ctx, "orders", "qty", "Units ordered, don't round")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ddl, "EXEC sp_updateextendedproperty"))
	assert.Contains(t, ddl, "N'Units ordered, don''t round'")
	assert.Equal(t, 1, c.count("fn_listextendedproperty"))

	require.NoError(t, sess.Commit(ctx))

	// Memo is gone after the transaction; the catalog is asked again.
	ddl, err = cat.CommentCreate(ctx, "orders", "qty", "Units ordered")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ddl, "EXEC sp_addextendedproperty"))
	assert.Equal(t, 2, c.count("fn_listextendedproperty"))
}

func TestCommentCreate_EmptyCommentDrops(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()
	c.on("fn_listextendedproperty", fixed(result([]string{""}, []any{"old text"})))
	c.on("sp_", fixed(&database.ResultSet{}))
	sess := cat.Session()

	ddl, err := cat.CommentCreate(ctx, "orders", "", "")
	require.NoError(t, err)
	assert.Equal(t, "EXEC sp_dropextendedproperty @name = N'MS_Description', "+
		"@level0type = N'SCHEMA', @level0name = N'dbo', @level1type = N'TABLE', @level1name = N'orders'", ddl)

	// Inside a transaction the drop is remembered: a second clear is
	// redundant and a new value is added, not updated.
	require.NoError(t, sess.Begin(ctx))
	require.NoError(t, cat.Comment(ctx, "orders", "", ""))
	require.Len(t, c.execs, 1)
	assert.True(t, strings.HasPrefix(c.execs[0], "EXEC sp_dropextendedproperty"))

	ddl, err = cat.CommentCreate(ctx, "orders", "", "")
	require.NoError(t, err)
	assert.Empty(t, ddl)

	ddl, err = cat.CommentCreate(ctx, "orders", "", "new text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ddl, "EXEC sp_addextendedproperty"))
	require.NoError(t, sess.Rollback(ctx))
}

func TestCommentCreate_EmptyCommentWithoutPropertyIsRedundant(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()
	c.on("fn_listextendedproperty", fixed(result([]string{""})))

	ddl, err := cat.CommentCreate(ctx, "orders", "qty", "")
	require.NoError(t, err)
	assert.Empty(t, ddl)

	require.NoError(t, cat.Comment(ctx, "orders", "qty", ""))
	assert.Empty(t, c.execs)
}

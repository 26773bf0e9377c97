package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
	"github.com/koustreak/tessera/internal/session"
)

func TestSetRecoveryModel(t *testing.T) {
	ctx := context.Background()
	c := (&fakeConn{}).
		on("recovery_model_desc", fixed(result([]string{""}, []any{"FULL"}))).
		on("ALTER DATABASE", fixed(&database.ResultSet{}))
	sess := session.New(c, nil)
	cat := mustNew(sess)

	m, err := cat.RecoveryModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.RecoveryFull, m)

	require.NoError(t, cat.SetRecoveryModel(ctx, schema.RecoveryBulkLogged))
	assert.Equal(t, []string{"ALTER DATABASE CURRENT SET RECOVERY BULK_LOGGED"}, c.execs)

	m, err = cat.RecoveryModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.RecoveryBulkLogged, m)
	assert.Equal(t, 1, c.count("recovery_model_desc"))

	err = cat.SetRecoveryModel(ctx, schema.RecoveryModel("chaos"))
	assert.True(t, errs.IsConfiguration(err))

	require.NoError(t, sess.Begin(ctx))
	err = cat.SetRecoveryModel(ctx, schema.RecoverySimple)
	assert.True(t, errs.IsInvalidState(err))
	assert.Len(t, c.execs, 1)
}

func TestDatabaseCreate(t *testing.T) {
	ctx := context.Background()
	c := (&fakeConn{}).on("CREATE DATABASE", fixed(&database.ResultSet{}))
	sess := session.New(c, nil)
	cat := mustNew(sess)

	require.NoError(t, cat.DatabaseCreate(ctx, "shop", ""))
	require.NoError(t, cat.DatabaseCreate(ctx, "shop_ci", "Latin1_General_100_CI_AS_SC_UTF8"))
	assert.Equal(t, []string{
		"CREATE DATABASE [shop]",
		"CREATE DATABASE [shop_ci] COLLATE Latin1_General_100_CI_AS_SC_UTF8",
	}, c.execs)

	assert.True(t, errs.IsConfiguration(cat.DatabaseCreate(ctx, "", "")))
	assert.True(t, errs.IsConfiguration(cat.DatabaseCreate(ctx, "x", "Latin1; DROP TABLE t")))

	require.NoError(t, sess.Begin(ctx))
	assert.True(t, errs.IsInvalidState(cat.DatabaseCreate(ctx, "x", "")))
	assert.Len(t, c.execs, 2)
}

func TestDatabaseInfo(t *testing.T) {
	ctx := context.Background()
	header := []string{"name", "snapshot_isolation_state", "snapshot_isolation_state_desc",
		"is_read_committed_snapshot_on", "recovery_model_desc", "collation_name"}
	c := (&fakeConn{}).on("FROM sys.databases", func(args []any) (*database.ResultSet, error) {
		if args[0] == "ghost" {
			return result(header), nil
		}
		return result(header, []any{"app", int64(1), "ON", true, "SIMPLE", "SQL_Latin1_General_CP1_CI_AS"}), nil
	})
	cat := mustNew(session.New(c, nil))

	info, err := cat.DatabaseInfo(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, DatabaseInfo{
		Name:                       "app",
		SnapshotIsolationState:     1,
		SnapshotIsolationStateDesc: "ON",
		ReadCommittedSnapshot:      true,
		RecoveryModel:              schema.RecoverySimple,
		Collation:                  "SQL_Latin1_General_CP1_CI_AS",
	}, info)

	_, err = cat.DatabaseInfo(ctx, "ghost")
	assert.True(t, errs.IsObjectNotFound(err))
}

func TestCollation(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()
	c.on("SERVERPROPERTY('Collation')", fixed(result([]string{""}, []any{"Latin1_General_CI_AS"}))).
		on("DATABASEPROPERTYEX", func(args []any) (*database.ResultSet, error) {
			if args[0] == "app" {
				return result([]string{""}, []any{"SQL_Latin1_General_CP1_CI_AS"}), nil
			}
			return result([]string{""}, []any{nil}), nil
		})

	v, err := cat.Collation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Latin1_General_CI_AS", v)

	v, err = cat.Collation(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, "SQL_Latin1_General_CP1_CI_AS", v)

	_, err = cat.Collation(ctx, "ghost")
	assert.True(t, errs.IsObjectNotFound(err))

	v, err = cat.ColumnCollation(ctx, "orders", "note")
	require.NoError(t, err)
	assert.Equal(t, "SQL_Latin1_General_CP1_CI_AS", v)

	v, err = cat.ColumnCollation(ctx, "orders", "qty")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestCLREnabled(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		rows [][]any
		want bool
	}{
		{[][]any{{int64(1)}}, true},
		{[][]any{{int64(0)}}, false},
		{nil, false},
	} {
		c := (&fakeConn{}).on("clr enabled", fixed(result([]string{""}, tt.rows...)))
		ok, err := mustNew(session.New(c, nil)).CLREnabled(ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok)
	}
}

func TestColumnDetails(t *testing.T) {
	ctx := context.Background()
	cat, c := newCatalog()

	cols, err := cat.ColumnDetails(ctx, "orders", "id", "price")
	require.NoError(t, err)
	assert.True(t, cols["id"].IsIdentity)
	assert.Equal(t, "decimal(18,2)", cols["price"].SQLTypeWithLength)

	_, err = cat.ColumnDetails(ctx, "orders", "nope")
	assert.True(t, errs.IsSchemaNotFound(err))
	assert.Equal(t, 2, introspections(c), "both calls share the cached details")
}

func TestTableHasXMLIndex(t *testing.T) {
	ctx := context.Background()

	cat, _ := newCatalog()
	_, ok, err := cat.TableHasXMLIndex(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	cols, idx := ordersTable()
	idx.Rows = append(idx.Rows, []any{"PXML_orders_note", "XML", false, false, "note", false})
	cat, _ = catalogWith(cols, idx)
	name, ok, err := cat.TableHasXMLIndex(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PXML_orders_note", name)
}

func TestClusteredIndexRowSize(t *testing.T) {
	ctx := context.Background()
	cat, _ := newCatalog()

	// id int(4) fixed, note nvarchar(200 bytes) variable, 2 columns.
	n, err := cat.ClusteredIndexRowSize(ctx, "orders", []string{"id", "note"}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4+(2+2+200)+3+4), n)
}

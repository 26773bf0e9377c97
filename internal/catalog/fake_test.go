package catalog

import (
	"context"
	"strings"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/database/mssql"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/session"
)

type reply func(args []any) (*database.ResultSet, error)

type route struct {
	match string
	reply reply
}

// fakeConn answers queries by the first route whose match is a substring
// of the query, and counts what it saw.
type fakeConn struct {
	routes  []route
	seen    []string
	execs   []string
	dialect database.Dialect
}

func (c *fakeConn) on(match string, r reply) *fakeConn {
	c.routes = append(c.routes, route{match: match, reply: r})
	return c
}

func (c *fakeConn) count(match string) int {
	n := 0
	for _, q := range c.seen {
		if strings.Contains(q, match) {
			n++
		}
	}
	return n
}

func (c *fakeConn) answer(query string, args []any) (*database.ResultSet, error) {
	c.seen = append(c.seen, query)
	for _, r := range c.routes {
		if strings.Contains(query, r.match) {
			return r.reply(args)
		}
	}
	return nil, errs.New(errs.ErrKindDriver, "unscripted query: "+query)
}

func (c *fakeConn) Prepare(_ context.Context, query string, _ database.PrepareOptions) (database.RawStmt, error) {
	return &fakeStmt{c: c, query: query}, nil
}

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) (int64, error) {
	c.execs = append(c.execs, query)
	if _, err := c.answer(query, args); err != nil {
		return 0, err
	}
	return 0, nil
}

func (c *fakeConn) Begin(context.Context, database.TxOptions) error { return nil }
func (c *fakeConn) Commit(context.Context) error                     { return nil }
func (c *fakeConn) Rollback(context.Context) error                   { return nil }
func (c *fakeConn) ErrorInfo() database.ErrorInfo                    { return database.ErrorInfo{} }
func (c *fakeConn) Dialect() database.Dialect {
	if c.dialect != nil {
		return c.dialect
	}
	return mssql.Dialect{}
}
func (c *fakeConn) Close(context.Context) error                      { return nil }

type fakeStmt struct {
	c     *fakeConn
	query string
}

func (s *fakeStmt) Execute(_ context.Context, args []any) (*database.ResultSet, error) {
	return s.c.answer(s.query, args)
}

func (s *fakeStmt) Close() error { return nil }

func result(cols []string, values ...[]any) *database.ResultSet {
	rs := &database.ResultSet{Rows: make([][]any, 0, len(values))}
	for _, c := range cols {
		rs.Columns = append(rs.Columns, database.ColumnMeta{Name: c})
	}
	rs.Rows = append(rs.Rows, values...)
	rs.RowsAffected = int64(len(values))
	return rs
}

func fixed(rs *database.ResultSet) reply {
	return func([]any) (*database.ResultSet, error) { return rs, nil }
}

var columnHeader = []string{
	"name", "type_name", "max_length", "precision", "scale", "collation_name",
	"is_nullable", "is_identity", "is_computed", "default_definition", "computed_definition",
}

var indexHeader = []string{"name", "type_desc", "is_unique", "is_primary_key", "column_name", "is_descending_key"}

// ordersTable scripts a dbo.orders table: identity key, two money columns,
// a computed total and an internal column.
func ordersTable() (*database.ResultSet, *database.ResultSet) {
	cols := result(columnHeader,
		[]any{"id", "int", int64(4), int64(10), int64(0), nil, false, true, false, nil, nil},
		[]any{"qty", "int", int64(4), int64(10), int64(0), nil, false, false, false, "((1))", nil},
		[]any{"price", "decimal", int64(9), int64(18), int64(2), nil, true, false, false, nil, nil},
		[]any{"total", "decimal", int64(17), int64(38), int64(2), nil, true, false, true, nil, "([qty]*[price]*[missing])"},
		[]any{"note", "nvarchar", int64(200), int64(0), int64(0), "SQL_Latin1_General_CP1_CI_AS", true, false, false, nil, nil},
		[]any{"__hash", "varbinary", int64(-1), int64(0), int64(0), nil, true, false, false, nil, nil},
	)
	idx := result(indexHeader,
		[]any{"PK_orders", "CLUSTERED", true, true, "id", false},
		[]any{"IX_orders_qty_price", "NONCLUSTERED", false, false, "qty", false},
		[]any{"IX_orders_qty_price", "NONCLUSTERED", false, false, "price", true},
	)
	return cols, idx
}

func mustNew(sess *session.Session) *Catalog {
	cat, err := New(sess)
	if err != nil {
		panic(err)
	}
	return cat
}

// newCatalog returns a catalog over a fake that knows dbo as the default
// schema and dbo.orders as the only table.
func newCatalog() (*Catalog, *fakeConn) {
	cols, idx := ordersTable()
	return catalogWith(cols, idx)
}

// catalogWith is newCatalog with dbo.orders described by cols and idx.
func catalogWith(cols, idx *database.ResultSet) (*Catalog, *fakeConn) {
	c := &fakeConn{}
	c.on("SCHEMA_NAME()", fixed(result([]string{""}, []any{"dbo"}))).
		on("FROM sys.columns", fixed(cols)).
		on("FROM sys.indexes i", fixed(idx)).
		on("TABLE_SCHEMA + '.' + TABLE_NAME", fixed(result([]string{"", ""}, []any{"dbo.orders", int64(1)}))).
		on("WHERE TABLE_SCHEMA = @p1", func(args []any) (*database.ResultSet, error) {
			if args[0] == "dbo" && args[1] == "orders" {
				return result([]string{""}, []any{int64(1)}), nil
			}
			return result([]string{""}), nil
		})
	return mustNew(session.New(c, nil)), c
}

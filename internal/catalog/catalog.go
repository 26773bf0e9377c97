// Package catalog answers schema questions about a SQL Server database
// through a Session, caching every answer in the session's cache binaries.
//
// Any DDL that changes a table must be followed by Invalidate, or the
// cached details are served for the rest of the cache's life. The Drop*
// helpers do this themselves.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/logger"
	"github.com/koustreak/tessera/internal/schema"
	"github.com/koustreak/tessera/internal/session"
)

// preloadedKey marks the table-exists binary as filled.
const preloadedKey = "__preloaded"

// Catalog is a caching introspection facade over one Session.
type Catalog struct {
	sess *session.Session
	log  *logger.Logger

	// comments written in the open transaction, keyed schema.table.column
	comments map[string]commentMemo
}

// Supports reports whether the catalog can describe databases of driver.
// Every query it issues reads SQL Server system views.
func Supports(driver database.Driver) error {
	if driver != database.DriverSQLServer {
		return errs.New(errs.ErrKindConfiguration, fmt.Sprintf("catalog requires driver %q, got %q", database.DriverSQLServer, driver))
	}
	return nil
}

// New returns a Catalog over sess, which must be connected to SQL Server.
func New(sess *session.Session) (*Catalog, error) {
	if err := Supports(sess.Dialect().Name()); err != nil {
		return nil, err
	}
	c := &Catalog{
		sess:     sess,
		log:      sess.Logger().With().Str("component", "catalog").Logger(),
		comments: make(map[string]commentMemo),
	}
	sess.OnTransactionEnd(func(bool) {
		c.comments = make(map[string]commentMemo)
	})
	return c, nil
}

// Session returns the underlying session.
func (c *Catalog) Session() *session.Session { return c.sess }

func (c *Catalog) query(ctx context.Context, q string, args ...any) (*session.Statement, error) {
	st, err := c.sess.Prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := st.Execute(ctx, args...); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (c *Catalog) exists(ctx context.Context, q string, args ...any) (bool, error) {
	st, err := c.query(ctx, q, args...)
	if err != nil {
		return false, err
	}
	defer st.Close()
	_, ok := st.FetchField(0)
	return ok, nil
}

// split resolves table into schema and name, defaulting the schema.
func (c *Catalog) split(ctx context.Context, table string) (string, string, error) {
	if i := strings.LastIndexByte(table, '.'); i > 0 {
		return unbracket(table[:i]), unbracket(table[i+1:]), nil
	}
	if isTemp(table) {
		return "", table, nil
	}
	def, err := c.DefaultSchema(ctx)
	if err != nil {
		return "", "", err
	}
	return def, unbracket(table), nil
}

// objectName is the argument OBJECT_ID() expects for schema.name.
func (c *Catalog) objectName(schemaName, name string) string {
	if isTemp(name) {
		return "tempdb.." + name
	}
	return c.sess.Dialect().QuoteIdent(schemaName + "." + name)
}

func (c *Catalog) qualified(ctx context.Context, table string) (string, error) {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return "", err
	}
	return c.objectName(schemaName, name), nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, "#")
}

func unbracket(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
}

func tableKey(schemaName, name string) string {
	return strings.ToLower(schemaName + "." + name)
}

// TableExists reports whether table exists. The first call fills the
// table-exists binary with every table in the database; temporary tables
// always go to tempdb. Only positive answers are cached.
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return false, err
	}
	if isTemp(name) {
		return c.tableExistsDirect(ctx, schemaName, name)
	}

	store := c.sess.Cache(cache.BinaryTableExists)
	if err := c.preloadTables(ctx, store); err != nil {
		return false, err
	}

	key := tableKey(schemaName, name)
	if v, ok := cache.Load[bool](ctx, store, key); ok {
		return v, nil
	}
	found, err := c.tableExistsDirect(ctx, schemaName, name)
	if err != nil {
		return false, err
	}
	// Absence is never cached: the table may be created by this or any
	// other session sharing the backend.
	if found {
		store.Set(ctx, key, true)
	}
	return found, nil
}

func (c *Catalog) preloadTables(ctx context.Context, store *cache.Store) error {
	if done, ok := cache.Load[bool](ctx, store, preloadedKey); ok && done {
		return nil
	}

	const q = `
		SELECT TABLE_SCHEMA + '.' + TABLE_NAME, 1
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'`

	st, err := c.query(ctx, q)
	if err != nil {
		return err
	}
	defer st.Close()

	tables, err := st.FetchAllKeyed(0, 1)
	if err != nil {
		return err
	}
	for name := range tables {
		store.Set(ctx, strings.ToLower(name), true)
	}
	store.Set(ctx, preloadedKey, true)
	c.log.DebugWith("table existence preloaded", map[string]interface{}{"tables": len(tables)})
	return nil
}

// tableExistsDirect asks the engine, bypassing every cache.
func (c *Catalog) tableExistsDirect(ctx context.Context, schemaName, name string) (bool, error) {
	if isTemp(name) {
		const q = `SELECT 1 FROM tempdb.sys.objects WHERE object_id = OBJECT_ID(@p1) AND type = 'U'`
		return c.exists(ctx, q, "tempdb.."+name)
	}
	const q = `
		SELECT 1 FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 AND TABLE_TYPE = 'BASE TABLE'`
	return c.exists(ctx, q, schemaName, name)
}

// FieldExists reports whether table has column. It reads cached table details.
func (c *Catalog) FieldExists(ctx context.Context, table, column string) (bool, error) {
	info, err := c.TableDetails(ctx, table)
	if err != nil {
		if errs.IsSchemaNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.HasColumn(column), nil
}

// IndexExists reports whether table has an index named index.
func (c *Catalog) IndexExists(ctx context.Context, table, index string) (bool, error) {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return false, err
	}
	return c.exists(ctx, `SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID(@p1) AND name = @p2`, obj, index)
}

// ViewExists reports whether the view exists.
func (c *Catalog) ViewExists(ctx context.Context, view string) (bool, error) {
	obj, err := c.qualified(ctx, view)
	if err != nil {
		return false, err
	}
	return c.exists(ctx, `SELECT 1 FROM sys.views WHERE object_id = OBJECT_ID(@p1)`, obj)
}

// TriggerExists reports whether the trigger exists.
func (c *Catalog) TriggerExists(ctx context.Context, trigger string) (bool, error) {
	obj, err := c.qualified(ctx, trigger)
	if err != nil {
		return false, err
	}
	return c.exists(ctx, `SELECT 1 FROM sys.triggers WHERE object_id = OBJECT_ID(@p1)`, obj)
}

// FunctionExists reports whether a scalar or table-valued function exists.
func (c *Catalog) FunctionExists(ctx context.Context, function string) (bool, error) {
	obj, err := c.qualified(ctx, function)
	if err != nil {
		return false, err
	}
	const q = `
		SELECT 1 FROM sys.objects
		WHERE object_id = OBJECT_ID(@p1) AND type IN ('FN', 'IF', 'TF', 'FS', 'FT')`
	return c.exists(ctx, q, obj)
}

// ConstraintExists reports whether table has a constraint of kind named name.
func (c *Catalog) ConstraintExists(ctx context.Context, table, name string, kind schema.ConstraintKind) (bool, error) {
	if _, err := schema.ParseConstraintKind(string(kind)); err != nil {
		return false, err
	}
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return false, err
	}
	const q = `
		SELECT 1 FROM sys.objects
		WHERE parent_object_id = OBJECT_ID(@p1) AND name = @p2 AND type = @p3`
	return c.exists(ctx, q, obj, name, kind.ObjectType())
}

// StatisticsExists reports whether table has statistics named name.
func (c *Catalog) StatisticsExists(ctx context.Context, table, name string) (bool, error) {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return false, err
	}
	return c.exists(ctx, `SELECT 1 FROM sys.stats WHERE object_id = OBJECT_ID(@p1) AND name = @p2`, obj, name)
}

package catalog

import (
	"context"
	"fmt"
	"regexp"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
	"github.com/koustreak/tessera/internal/session"
)

var collationName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DatabaseInfo is the sys.databases row of one database.
type DatabaseInfo struct {
	Name                       string               `json:"name"`
	SnapshotIsolationState     int                  `json:"snapshot_isolation_state"`
	SnapshotIsolationStateDesc string               `json:"snapshot_isolation_state_desc"`
	ReadCommittedSnapshot      bool                 `json:"is_read_committed_snapshot_on"`
	RecoveryModel              schema.RecoveryModel `json:"recovery_model"`
	Collation                  string               `json:"collation"`
}

// outsideTransaction guards statements the engine refuses inside a
// user transaction.
func (c *Catalog) outsideTransaction(op string) error {
	if c.sess.State() != session.StateIdle {
		return errs.New(errs.ErrKindInvalidState, op+" cannot run inside a transaction")
	}
	return nil
}

// SetRecoveryModel switches the current database to m.
func (c *Catalog) SetRecoveryModel(ctx context.Context, m schema.RecoveryModel) error {
	m, err := schema.ParseRecoveryModel(string(m))
	if err != nil {
		return err
	}
	if err := c.outsideTransaction("ALTER DATABASE"); err != nil {
		return err
	}
	if _, err := c.sess.Exec(ctx, "ALTER DATABASE CURRENT SET RECOVERY "+m.SQL()); err != nil {
		return err
	}
	c.sess.Cache(cache.BinaryEngine).Set(ctx, keyRecoveryModel, string(m))
	return nil
}

// DatabaseCreate creates database name, with the server's default
// collation when collation is empty.
func (c *Catalog) DatabaseCreate(ctx context.Context, name, collation string) error {
	if name == "" {
		return errs.New(errs.ErrKindConfiguration, "database name is required")
	}
	if collation != "" && !collationName.MatchString(collation) {
		return errs.New(errs.ErrKindConfiguration, fmt.Sprintf("invalid collation %q", collation))
	}
	if err := c.outsideTransaction("CREATE DATABASE"); err != nil {
		return err
	}
	ddl := "CREATE DATABASE " + c.sess.Dialect().QuoteIdent(name)
	if collation != "" {
		ddl += " COLLATE " + collation
	}
	_, err := c.sess.Exec(ctx, ddl)
	return err
}

// DatabaseInfo describes database name, or the current database when name
// is empty.
func (c *Catalog) DatabaseInfo(ctx context.Context, name string) (DatabaseInfo, error) {
	const q = `
		SELECT name, snapshot_isolation_state, snapshot_isolation_state_desc,
		       is_read_committed_snapshot_on, recovery_model_desc, collation_name
		FROM sys.databases
		WHERE name = COALESCE(@p1, DB_NAME())`

	var arg any
	if name != "" {
		arg = name
	}
	st, err := c.query(ctx, q, arg)
	if err != nil {
		return DatabaseInfo{}, err
	}
	defer st.Close()

	row, ok := st.FetchRow()
	if !ok {
		return DatabaseInfo{}, errs.New(errs.ErrKindObjectNotFound, fmt.Sprintf("database %q does not exist", name))
	}
	model, err := schema.ParseRecoveryModel(asString(row["recovery_model_desc"]))
	if err != nil {
		return DatabaseInfo{}, err
	}
	return DatabaseInfo{
		Name:                       asString(row["name"]),
		SnapshotIsolationState:     int(asInt64(row["snapshot_isolation_state"])),
		SnapshotIsolationStateDesc: asString(row["snapshot_isolation_state_desc"]),
		ReadCommittedSnapshot:      asBool(row["is_read_committed_snapshot_on"]),
		RecoveryModel:              model,
		Collation:                  asString(row["collation_name"]),
	}, nil
}

// Collation returns the default collation of database, or of the server
// when database is empty.
func (c *Catalog) Collation(ctx context.Context, database string) (string, error) {
	var (
		v   any
		err error
	)
	if database == "" {
		v, err = c.single(ctx, `SELECT CAST(SERVERPROPERTY('Collation') AS nvarchar(128))`)
	} else {
		v, err = c.single(ctx, `SELECT CAST(DATABASEPROPERTYEX(@p1, 'Collation') AS nvarchar(128))`, database)
	}
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", errs.New(errs.ErrKindObjectNotFound, fmt.Sprintf("database %q does not exist", database))
	}
	return asString(v), nil
}

// ColumnCollation returns the collation of a character column, or "" for
// other types. It reads cached table details.
func (c *Catalog) ColumnCollation(ctx context.Context, table, column string) (string, error) {
	cols, err := c.ColumnDetails(ctx, table, column)
	if err != nil {
		return "", err
	}
	return cols[column].Collation, nil
}

// CLREnabled reports whether the server allows CLR assemblies.
func (c *Catalog) CLREnabled(ctx context.Context) (bool, error) {
	st, err := c.query(ctx, `SELECT CAST(value_in_use AS int) FROM sys.configurations WHERE name = 'clr enabled'`)
	if err != nil {
		return false, err
	}
	defer st.Close()
	v, ok := st.FetchField(0)
	return ok && asInt64(v) != 0, nil
}

// ColumnDetails returns the named columns of table from cached details.
func (c *Catalog) ColumnDetails(ctx context.Context, table string, columns ...string) (map[string]schema.ColumnInfo, error) {
	info, err := c.TableDetails(ctx, table)
	if err != nil {
		return nil, err
	}
	return info.ColumnDetails(columns...)
}

// TableHasXMLIndex returns the name of an XML index on table, if any.
func (c *Catalog) TableHasXMLIndex(ctx context.Context, table string) (string, bool, error) {
	info, err := c.TableDetails(ctx, table)
	if err != nil {
		return "", false, err
	}
	name, ok := info.XMLIndex()
	return name, ok, nil
}

// ClusteredIndexRowSize estimates the row size in bytes of a clustered
// index on fields of table. The fields must already exist.
func (c *Catalog) ClusteredIndexRowSize(ctx context.Context, table string, fields []string, unique bool) (int64, error) {
	info, err := c.TableDetails(ctx, table)
	if err != nil {
		return 0, err
	}
	return info.ClusteredIndexRowSize(fields, unique)
}

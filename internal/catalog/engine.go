package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
	"github.com/koustreak/tessera/internal/session"
)

// Keys in the engine binary.
const (
	keyDefaultSchema = "default_schema"
	keyVersion       = "version"
	keyUserOptions   = "user_options"
	keyRecoveryModel = "recovery_model"
)

// engineEditionAzure is SERVERPROPERTY('EngineEdition') on Azure SQL Database.
const engineEditionAzure = 5

// EngineVersion describes the server.
type EngineVersion struct {
	Version       string // ProductVersion, e.g. 16.0.4135.4
	Major         int
	Edition       string
	EngineEdition int
}

// IsAzure reports whether the server is Azure SQL Database.
func (v EngineVersion) IsAzure() bool {
	return v.EngineEdition == engineEditionAzure
}

// single runs q and returns the first field of the first row.
func (c *Catalog) single(ctx context.Context, q string, args ...any) (any, error) {
	st, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	v, ok := st.FetchField(0)
	if !ok {
		return nil, errs.New(errs.ErrKindDriver, "query returned no rows")
	}
	return v, nil
}

// DefaultSchema returns the session user's default schema.
func (c *Catalog) DefaultSchema(ctx context.Context) (string, error) {
	store := c.sess.Cache(cache.BinaryEngine)
	if v, ok := cache.Load[string](ctx, store, keyDefaultSchema); ok {
		return v, nil
	}
	v, err := c.single(ctx, `SELECT SCHEMA_NAME()`)
	if err != nil {
		return "", err
	}
	name := asString(v)
	if name == "" {
		name = "dbo"
	}
	store.Set(ctx, keyDefaultSchema, name)
	return name, nil
}

// EngineVersion returns the server version and edition.
func (c *Catalog) EngineVersion(ctx context.Context) (EngineVersion, error) {
	store := c.sess.Cache(cache.BinaryEngine)
	if v, ok := cache.Load[EngineVersion](ctx, store, keyVersion); ok {
		return v, nil
	}

	const q = `
		SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)) AS version,
		       CAST(SERVERPROPERTY('Edition') AS nvarchar(128)) AS edition,
		       CAST(SERVERPROPERTY('EngineEdition') AS int) AS engine_edition`

	st, err := c.query(ctx, q)
	if err != nil {
		return EngineVersion{}, err
	}
	defer st.Close()
	row, ok := st.FetchRow()
	if !ok {
		return EngineVersion{}, errs.New(errs.ErrKindDriver, "server properties returned no rows")
	}

	v := EngineVersion{
		Version:       asString(row["version"]),
		Edition:       asString(row["edition"]),
		EngineEdition: int(asInt64(row["engine_edition"])),
	}
	major, _, _ := strings.Cut(v.Version, ".")
	v.Major, _ = strconv.Atoi(major)

	store.Set(ctx, keyVersion, v)
	return v, nil
}

// per-setting fallbacks for DBCC USEROPTIONS; only options that are on
// are reported, as DBCC does.
var optionFlags = []struct {
	name string
	bit  int
}{
	{optAnsiWarnings, 8},
	{optAnsiPadding, 16},
	{optAnsiNulls, 32},
	{optArithAbort, 64},
	{optQuotedIdentifier, 256},
	{optAnsiNullDefaultOn, 1024},
	{optConcatNullYieldsNull, 4096},
}

var optionQueries = []struct {
	name  string
	query string
}{
	{optTextSize, `SELECT CAST(@@TEXTSIZE AS nvarchar(32))`},
	{optLanguage, `SELECT @@LANGUAGE`},
	{optDateFormat, `SELECT dateformat FROM sys.syslanguages WHERE langid = @@LANGID`},
	{optDateFirst, `SELECT CAST(@@DATEFIRST AS nvarchar(32))`},
	{optLockTimeout, `SELECT CAST(@@LOCK_TIMEOUT AS nvarchar(32))`},
	{optIsolationLevel, `
		SELECT CASE transaction_isolation_level
			WHEN 1 THEN 'read uncommitted'
			WHEN 2 THEN 'read committed'
			WHEN 3 THEN 'repeatable read'
			WHEN 4 THEN 'serializable'
			WHEN 5 THEN 'snapshot'
			ELSE 'unspecified' END
		FROM sys.dm_exec_sessions WHERE session_id = @@SPID`},
}

// UserOptions returns the connection's SET options. DBCC USEROPTIONS is
// only tried outside a transaction and off Azure; otherwise, or when it
// fails, each setting is queried on its own.
func (c *Catalog) UserOptions(ctx context.Context) (UserOptions, error) {
	store := c.sess.Cache(cache.BinaryEngine)
	if v, ok := cache.Load[UserOptions](ctx, store, keyUserOptions); ok {
		return v, nil
	}

	pairs, err := c.userOptionsDiagnostic(ctx)
	if err != nil {
		c.log.DebugWith("falling back to per-setting user options", map[string]interface{}{"reason": err.Error()})
		if pairs, err = c.userOptionsEach(ctx); err != nil {
			return UserOptions{}, err
		}
	}
	opts := parseUserOptions(pairs)
	store.Set(ctx, keyUserOptions, opts)
	return opts, nil
}

var errDiagnosticUnavailable = errs.New(errs.ErrKindInvalidState, "DBCC USEROPTIONS unavailable")

func (c *Catalog) userOptionsDiagnostic(ctx context.Context) (map[string]string, error) {
	if c.sess.State() != session.StateIdle {
		return nil, errDiagnosticUnavailable
	}
	v, err := c.EngineVersion(ctx)
	if err != nil {
		return nil, err
	}
	if v.IsAzure() {
		return nil, errDiagnosticUnavailable
	}

	st, err := c.sess.RawExecute(ctx, `DBCC USEROPTIONS WITH NO_INFOMSGS`)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	pairs, err := st.FetchAllKeyed(0, 1)
	if err != nil {
		return nil, err
	}
	opts := make(map[string]string, len(pairs))
	for k, v := range pairs {
		opts[strings.ToLower(k)] = asString(v)
	}
	return opts, nil
}

func (c *Catalog) userOptionsEach(ctx context.Context) (map[string]string, error) {
	opts := make(map[string]string)
	for _, o := range optionQueries {
		v, err := c.single(ctx, o.query)
		if err != nil {
			return nil, fmt.Errorf("user option %s: %w", o.name, err)
		}
		opts[o.name] = asString(v)
	}

	v, err := c.single(ctx, `SELECT @@OPTIONS`)
	if err != nil {
		return nil, fmt.Errorf("user options: %w", err)
	}
	flags := asInt64(v)
	for _, f := range optionFlags {
		if flags&int64(f.bit) != 0 {
			opts[f.name] = "SET"
		}
	}
	return opts, nil
}

// RecoveryModel returns the current database's recovery model.
func (c *Catalog) RecoveryModel(ctx context.Context) (schema.RecoveryModel, error) {
	store := c.sess.Cache(cache.BinaryEngine)
	if v, ok := cache.Load[string](ctx, store, keyRecoveryModel); ok {
		return schema.RecoveryModel(v), nil
	}
	v, err := c.single(ctx, `SELECT recovery_model_desc FROM sys.databases WHERE name = DB_NAME()`)
	if err != nil {
		return "", err
	}
	m, err := schema.ParseRecoveryModel(asString(v))
	if err != nil {
		return "", err
	}
	store.Set(ctx, keyRecoveryModel, string(m))
	return m, nil
}

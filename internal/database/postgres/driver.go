// Package postgres connects sessions to PostgreSQL through a single
// pgx.Conn (no pool: the session owns exactly one backend).
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Conn is a database.Conn backed by one pgx.Conn.
type Conn struct {
	cfg   *pgx.ConnConfig
	conn  *pgx.Conn
	tx    pgx.Tx
	last  database.ErrorInfo
	seq   int
	stmts map[*stmt]struct{}
}

// Open connects to PostgreSQL using cfg.DSN.
func Open(ctx context.Context, cfg *database.Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pcfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid DSN", err)
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnectTimeout = cfg.ConnectTimeout
	}

	c := &Conn{cfg: pcfg, stmts: make(map[*stmt]struct{})}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, c.cfg)
	if err != nil {
		e := c.fail(err, "failed to connect")
		return errs.WrapCode(errs.ErrKindConnectionFailed, e.Code, e.Message, err)
	}
	c.conn = conn
	return nil
}

// reconnect replaces a closed backend connection; prepared statements are
// recreated lazily on the new one.
func (c *Conn) reconnect(ctx context.Context) error {
	for s := range c.stmts {
		s.name = ""
	}
	if c.conn != nil {
		_ = c.conn.Close(ctx)
	}
	return c.connect(ctx)
}

func (c *Conn) exec() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

func (c *Conn) fail(err error, msg string) *errs.Error {
	e := mapError(err, msg)
	c.last = database.ErrorInfo{Code: e.Code, Message: e.Message}
	return e
}

// --- database.Conn implementation ---

func (c *Conn) Prepare(_ context.Context, query string, opts database.PrepareOptions) (database.RawStmt, error) {
	s := &stmt{c: c, sql: query, direct: opts.Direct}
	c.stmts[s] = struct{}{}
	return s, nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := c.exec().Exec(ctx, query, args...)
	if err != nil {
		return 0, c.fail(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (c *Conn) Begin(ctx context.Context, opts database.TxOptions) error {
	if c.tx != nil {
		return errs.New(errs.ErrKindInvalidState, "transaction already open")
	}
	if c.conn.IsClosed() {
		if err := c.reconnect(ctx); err != nil {
			return err
		}
	}
	txOpts := pgx.TxOptions{IsoLevel: isolation(opts.Isolation)}
	if opts.ReadOnly {
		txOpts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, txOpts)
	if err != nil {
		e := c.fail(err, "begin failed")
		return errs.WrapCode(errs.ErrKindConnectionFailed, e.Code, e.Message, err)
	}
	c.tx = tx
	return nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return errs.New(errs.ErrKindInvalidState, "no open transaction")
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxCommitRollback) {
			return errs.Wrap(errs.ErrKindDoomedTransaction, "transaction was aborted and rolled back", err)
		}
		return c.fail(err, "commit failed")
	}
	return nil
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return c.fail(err, "rollback failed")
	}
	return nil
}

func (c *Conn) ErrorInfo() database.ErrorInfo {
	return c.last
}

func (c *Conn) Dialect() database.Dialect {
	return Dialect{}
}

func (c *Conn) Close(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback(ctx)
		c.tx = nil
	}
	return c.conn.Close(ctx)
}

// --- statements ---

type stmt struct {
	c      *Conn
	sql    string
	name   string
	direct bool
}

func (s *stmt) Execute(ctx context.Context, args []any) (*database.ResultSet, error) {
	c := s.c
	if c.tx == nil && c.conn.IsClosed() {
		if err := c.reconnect(ctx); err != nil {
			return nil, err
		}
	}

	query := s.sql
	if s.direct {
		args = append([]any{pgx.QueryExecModeSimpleProtocol}, args...)
	} else {
		if s.name == "" {
			c.seq++
			name := fmt.Sprintf("tessera_%d", c.seq)
			if _, err := c.conn.Prepare(ctx, name, s.sql); err != nil {
				return nil, c.fail(err, "prepare failed")
			}
			s.name = name
		}
		query = s.name
	}

	rows, err := c.exec().Query(ctx, query, args...)
	if err != nil {
		return nil, c.fail(err, "execute failed")
	}
	defer rows.Close()

	rs, err := database.Buffer(rows, s.columns(rows))
	if err != nil {
		return nil, c.fail(err, "execute failed")
	}
	rows.Close()
	if len(rs.Columns) == 0 {
		rs.RowsAffected = rows.CommandTag().RowsAffected()
	}
	return rs, nil
}

func (s *stmt) columns(rows pgx.Rows) []database.ColumnMeta {
	fields := rows.FieldDescriptions()
	cols := make([]database.ColumnMeta, len(fields))
	for i, f := range fields {
		typeName := fmt.Sprintf("OID%d", f.DataTypeOID)
		if t, ok := s.c.conn.TypeMap().TypeForOID(f.DataTypeOID); ok {
			typeName = t.Name
		}
		m := database.ColumnMeta{
			Name:         f.Name,
			DatabaseType: strings.ToUpper(typeName),
			Length:       int64(f.DataTypeSize),
			Nullable:     true,
		}
		// varchar(n)/bpchar(n) carry n+4 in the type modifier.
		if f.TypeModifier > 4 && (typeName == "varchar" || typeName == "bpchar") {
			m.Length = int64(f.TypeModifier - 4)
		}
		if typeName == "numeric" && f.TypeModifier > 4 {
			mod := f.TypeModifier - 4
			m.Precision, m.Scale = int64(mod>>16), int64(mod&0xffff)
		}
		cols[i] = m
	}
	return cols
}

func (s *stmt) Close() error {
	if s.name != "" && !s.c.conn.IsClosed() {
		_ = s.c.conn.Deallocate(context.Background(), s.name)
	}
	delete(s.c.stmts, s)
	return nil
}

func isolation(l database.IsolationLevel) pgx.TxIsoLevel {
	switch l {
	case database.IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case database.IsolationReadCommitted:
		return pgx.ReadCommitted
	case database.IsolationRepeatableRead, database.IsolationSnapshot:
		return pgx.RepeatableRead
	case database.IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}

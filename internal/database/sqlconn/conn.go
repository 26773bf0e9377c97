// Package sqlconn implements database.Conn on top of database/sql for the
// engines whose Go drivers plug into it (SQL Server, MySQL). The pool is
// pinned to a single *sql.Conn so the session owns exactly one physical
// connection.
package sqlconn

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
)

// Classifier translates a native driver error into *errs.Error.
type Classifier func(err error, msg string) *errs.Error

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Conn is a database.Conn backed by one *sql.Conn.
type Conn struct {
	cfg      *database.Config
	db       *sql.DB
	conn     *sql.Conn
	tx       *sql.Tx
	dialect  database.Dialect
	classify Classifier
	last     database.ErrorInfo
	stmts    map[*stmt]struct{}
}

// Open opens driverName with cfg.DSN, pins one connection and pings it.
func Open(ctx context.Context, driverName string, cfg *database.Config, dialect database.Dialect, classify Classifier) (*Conn, error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Conn{cfg: cfg, db: db, dialect: dialect, classify: classify, stmts: make(map[*stmt]struct{})}
	if err := c.connect(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) connect(ctx context.Context) error {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return c.connectError(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return c.connectError(err)
	}
	c.conn = conn
	return nil
}

// connectError keeps the native code but always reports a connection failure.
func (c *Conn) connectError(err error) *errs.Error {
	e := c.fail(err, "failed to open connection")
	return errs.WrapCode(errs.ErrKindConnectionFailed, e.Code, e.Message, err)
}

// reconnect swaps a dropped physical connection for a fresh one. It is only
// safe outside a transaction; inside one the work is already lost.
func (c *Conn) reconnect(ctx context.Context) error {
	for s := range c.stmts {
		s.reset()
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

// ensure restores a connection lost by a failed reconnect.
func (c *Conn) ensure(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	return c.connect(ctx)
}

func (c *Conn) exec() querier {
	if c.tx != nil {
		return c.tx
	}
	return c.conn
}

// fail classifies err and records it as the connection's error state.
func (c *Conn) fail(err error, msg string) *errs.Error {
	e := c.classify(err, msg)
	c.last = database.ErrorInfo{Code: e.Code, Message: e.Message}
	return e
}

// --- database.Conn implementation ---

func (c *Conn) Prepare(_ context.Context, query string, opts database.PrepareOptions) (database.RawStmt, error) {
	s := &stmt{c: c, query: query, direct: opts.Direct}
	c.stmts[s] = struct{}{}
	return s, nil
}

func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := c.ensure(ctx); err != nil {
		return 0, err
	}
	res, err := c.exec().ExecContext(ctx, query, args...)
	if err != nil {
		return 0, c.fail(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) do not report a count.
		return 0, nil
	}
	return n, nil
}

func (c *Conn) Begin(ctx context.Context, opts database.TxOptions) error {
	if c.tx != nil {
		return errs.New(errs.ErrKindInvalidState, "transaction already open")
	}
	if err := c.ensure(ctx); err != nil {
		return err
	}
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolation(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		e := c.fail(err, "begin failed")
		return errs.WrapCode(errs.ErrKindConnectionFailed, e.Code, e.Message, err)
	}
	c.tx = tx
	return nil
}

func (c *Conn) Commit(_ context.Context) error {
	if c.tx == nil {
		return errs.New(errs.ErrKindInvalidState, "no open transaction")
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return c.fail(err, "commit failed")
	}
	return nil
}

func (c *Conn) Rollback(_ context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return c.fail(err, "rollback failed")
	}
	return nil
}

func (c *Conn) ErrorInfo() database.ErrorInfo {
	return c.last
}

func (c *Conn) Dialect() database.Dialect {
	return c.dialect
}

func (c *Conn) Close(_ context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	for s := range c.stmts {
		_ = s.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return c.db.Close()
}

func isolation(l database.IsolationLevel) sql.IsolationLevel {
	switch l {
	case database.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case database.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case database.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case database.IsolationSnapshot:
		return sql.LevelSnapshot
	case database.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

package sqlconn

import (
	"context"
	"database/sql"
	"strings"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
)

// stmt is a lazily prepared statement. The server-side handle is created on
// first execution and dropped whenever the physical connection is replaced.
type stmt struct {
	c        *Conn
	query    string
	direct   bool
	prepared *sql.Stmt
}

func (s *stmt) Execute(ctx context.Context, args []any) (*database.ResultSet, error) {
	rows, err := s.run(ctx, args)
	if err != nil {
		e := s.c.fail(err, "execute failed")
		if e.Kind == errs.ErrKindConnectionDropped && s.c.tx == nil {
			// Next attempt runs on a fresh connection.
			_ = s.c.reconnect(ctx)
		}
		return nil, e
	}
	defer rows.Close()

	cols, err := columnMeta(rows)
	if err != nil {
		return nil, s.c.fail(err, "failed to read column metadata")
	}
	rs, err := database.Buffer(rows, cols)
	if err != nil {
		return nil, s.c.fail(err, "failed to read result")
	}
	return rs, nil
}

func (s *stmt) run(ctx context.Context, args []any) (*sql.Rows, error) {
	if err := s.c.ensure(ctx); err != nil {
		return nil, err
	}
	if s.direct {
		return s.c.exec().QueryContext(ctx, s.query, args...)
	}
	if s.prepared == nil {
		p, err := s.c.conn.PrepareContext(ctx, s.query)
		if err != nil {
			return nil, err
		}
		s.prepared = p
	}
	if s.c.tx != nil {
		return s.c.tx.StmtContext(ctx, s.prepared).QueryContext(ctx, args...)
	}
	return s.prepared.QueryContext(ctx, args...)
}

func (s *stmt) reset() {
	if s.prepared != nil {
		_ = s.prepared.Close()
		s.prepared = nil
	}
}

func (s *stmt) Close() error {
	s.reset()
	delete(s.c.stmts, s)
	return nil
}

func columnMeta(rows *sql.Rows) ([]database.ColumnMeta, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]database.ColumnMeta, len(types))
	for i, ct := range types {
		m := database.ColumnMeta{
			Name:         ct.Name(),
			DatabaseType: strings.ToUpper(ct.DatabaseTypeName()),
			Length:       -1,
		}
		if l, ok := ct.Length(); ok {
			m.Length = l
		}
		if p, sc, ok := ct.DecimalSize(); ok {
			m.Precision, m.Scale = p, sc
		}
		if n, ok := ct.Nullable(); ok {
			m.Nullable = n
		}
		cols[i] = m
	}
	return cols, nil
}

package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/database/mssql"
	"github.com/koustreak/tessera/internal/errs"
)

type handler func(query string, args []any) (*database.ResultSet, error)

// fakeConn is a scripted database.Conn. Queries go to the handler; calls
// are counted so tests can assert what reached the "engine".
type fakeConn struct {
	handle handler

	begins, commits, rollbacks int
	rollbackErr                error
	executes                   []string
	execs                      []string
	info                       database.ErrorInfo
	closed                     bool
	dialect                    database.Dialect
}

func newFakeConn(h handler) *fakeConn {
	if h == nil {
		h = func(string, []any) (*database.ResultSet, error) { return rows([]string{"n"}), nil }
	}
	return &fakeConn{handle: h}
}

func (c *fakeConn) Prepare(_ context.Context, query string, _ database.PrepareOptions) (database.RawStmt, error) {
	return &fakeStmt{c: c, query: query}, nil
}

func (c *fakeConn) Exec(_ context.Context, query string, args ...any) (int64, error) {
	c.execs = append(c.execs, query)
	rs, err := c.handle(query, args)
	if err != nil {
		return 0, err
	}
	if rs == nil {
		return 0, nil
	}
	return rs.RowsAffected, nil
}

func (c *fakeConn) Begin(context.Context, database.TxOptions) error {
	c.begins++
	return nil
}

func (c *fakeConn) Commit(context.Context) error {
	c.commits++
	return nil
}

func (c *fakeConn) Rollback(context.Context) error {
	c.rollbacks++
	return c.rollbackErr
}

func (c *fakeConn) ErrorInfo() database.ErrorInfo { return c.info }

func (c *fakeConn) Dialect() database.Dialect {
	if c.dialect != nil {
		return c.dialect
	}
	return mssql.Dialect{}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true
	return nil
}

type fakeStmt struct {
	c     *fakeConn
	query string
}

func (s *fakeStmt) Execute(_ context.Context, args []any) (*database.ResultSet, error) {
	s.c.executes = append(s.c.executes, s.query)
	return s.c.handle(s.query, args)
}

func (s *fakeStmt) Close() error { return nil }

// rows builds a result set with the given columns and row values.
func rows(cols []string, values ...[]any) *database.ResultSet {
	rs := &database.ResultSet{Rows: make([][]any, 0, len(values))}
	for _, c := range cols {
		rs.Columns = append(rs.Columns, database.ColumnMeta{Name: c, DatabaseType: "NVARCHAR", Length: -1})
	}
	rs.Rows = append(rs.Rows, values...)
	rs.RowsAffected = int64(len(values))
	return rs
}

// sleeps records backoff delays instead of sleeping.
type sleeps struct {
	delays []time.Duration
}

func (r *sleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestSession(c *fakeConn) (*Session, *sleeps) {
	s := New(c, nil)
	rec := &sleeps{}
	s.sleep = rec.sleep
	return s, rec
}

// sequenceServer simulates engine-side sequences shared by several
// connections.
type sequenceServer struct {
	mu   sync.Mutex
	seqs map[string]int64

	// created is the DDL that created the sequence.
	created string

	// missing, when set, holds readers of a missing sequence until that
	// many have observed it missing.
	missing *sync.WaitGroup
}

func newSequenceServer() *sequenceServer {
	return &sequenceServer{seqs: make(map[string]int64)}
}

func (srv *sequenceServer) handle(query string, _ []any) (*database.ResultSet, error) {
	d := mssql.Dialect{}
	name := "ids"

	switch {
	case query == d.NextSequenceValue(name):
		srv.mu.Lock()
		v, ok := srv.seqs[name]
		if !ok {
			srv.mu.Unlock()
			if srv.missing != nil {
				srv.missing.Done()
				srv.missing.Wait()
			}
			return nil, errs.WrapCode(errs.ErrKindObjectNotFound, "208", "Invalid object name 'ids'", nil)
		}
		srv.seqs[name] = v + 1
		srv.mu.Unlock()
		return rows([]string{""}, []any{v}), nil

	case strings.HasPrefix(query, "CREATE SEQUENCE"):
		srv.mu.Lock()
		defer srv.mu.Unlock()
		if _, ok := srv.seqs[name]; ok {
			return nil, errs.WrapCode(errs.ErrKindObjectExists, "2714", "There is already an object named 'ids'", nil)
		}
		srv.seqs[name] = startOf(query)
		srv.created = query
		return &database.ResultSet{}, nil

	case strings.HasPrefix(query, "ALTER SEQUENCE"):
		srv.mu.Lock()
		defer srv.mu.Unlock()
		srv.seqs[name] = startOf(query)
		return &database.ResultSet{}, nil
	}
	return nil, errs.New(errs.ErrKindDriver, "unexpected query "+query)
}

// startOf reads n from "START WITH n" or "RESTART WITH n".
func startOf(ddl string) int64 {
	fields := strings.Fields(ddl)
	for i, f := range fields[:len(fields)-1] {
		if f == "WITH" {
			v, _ := toInt64(fields[i+1])
			return v
		}
	}
	return 0
}

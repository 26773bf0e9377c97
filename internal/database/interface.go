package database

import "context"

// Conn is one exclusively owned physical connection to a database engine.
// The session layer talks only to this interface; it never imports a
// driver package. Every error returned by a Conn or RawStmt is an
// *errs.Error classified by the adapter.
//
// A Conn is not safe for concurrent use.
type Conn interface {
	// Prepare readies query for execution. The statement is bound to this
	// connection and follows it in and out of transactions.
	Prepare(ctx context.Context, query string, opts PrepareOptions) (RawStmt, error)

	// Exec runs a statement that returns no rows and reports rows affected.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Begin opens a transaction on the connection.
	Begin(ctx context.Context, opts TxOptions) error

	// Commit commits the open transaction.
	Commit(ctx context.Context) error

	// Rollback aborts the open transaction.
	Rollback(ctx context.Context) error

	// ErrorInfo reports the error state recorded by the last failed call.
	ErrorInfo() ErrorInfo

	// Dialect returns the SQL fragments this engine needs from the session layer.
	Dialect() Dialect

	// Close releases the physical connection.
	Close(ctx context.Context) error
}

// RawStmt is a driver-level prepared statement.
type RawStmt interface {
	// Execute runs the statement and buffers its complete result.
	// A nil result with a nil error means the driver reported a logical
	// failure without raising; callers consult Conn.ErrorInfo.
	Execute(ctx context.Context, args []any) (*ResultSet, error)

	// Close releases the statement handle.
	Close() error
}

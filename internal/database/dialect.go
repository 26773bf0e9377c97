package database

// Dialect carries the few engine-specific SQL fragments the session layer
// emits itself. Everything else is the caller's SQL.
type Dialect interface {
	// Name identifies the engine.
	Name() Driver

	// QuoteIdent quotes a (possibly schema-qualified) identifier.
	QuoteIdent(name string) string

	// NextSequenceValue returns a query yielding one row, one column: the
	// next value of the named sequence.
	NextSequenceValue(name string) string

	// CreateSequence returns DDL creating the sequence at start with
	// minValue as its floor.
	CreateSequence(name string, start, minValue int64) string

	// RestartSequence returns DDL that restarts the sequence at start.
	RestartSequence(name string, start int64) string

	// BenignCodes lists native codes that never doom a transaction when
	// the session has no explicit allow-list.
	BenignCodes() []string
}

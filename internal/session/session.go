// Package session owns one database connection and its transaction state.
//
// A Session is the only path statements take to the connection. Statement
// errors flow back through NotifyFailure, which dooms the active
// transaction on anything not in the benign allow-list; a doomed
// transaction can only end in rollback or in a commit that reports the
// original failure.
//
// Usage:
//
//	conn, err := mssql.Open(ctx, dbCfg)
//	if err != nil { ... }
//	sess := session.New(conn, session.DefaultConfig())
//	defer sess.Close(ctx)
//
//	if err := sess.Begin(ctx); err != nil { ... }
//	st, err := sess.Prepare(ctx, "UPDATE t SET n = n + 1 WHERE id = @p1")
//	if err == nil {
//	    err = st.Execute(ctx, 42)
//	}
//	if err != nil {
//	    _ = sess.Rollback(ctx)
//	    return err
//	}
//	return sess.Commit(ctx)
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/logger"
	"github.com/koustreak/tessera/internal/serializer"
)

// State is the transaction state of a Session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateDoomed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDoomed:
		return "doomed"
	default:
		return "idle"
	}
}

// Config configures a Session.
type Config struct {
	// Prefix namespaces every cache binary. Use cache.PrefixFor to derive
	// one per logical target.
	Prefix string

	// BenignCodes are native error codes that never doom a transaction.
	// Empty means the dialect's defaults.
	BenignCodes []string

	// Isolation is used by Begin.
	Isolation database.IsolationLevel

	// DefaultRetry is the policy of statements prepared without retry options.
	DefaultRetry RetryPolicy

	Serializer serializer.Serializer
	Backend    cache.Backend
	Logger     *logger.Logger
}

// DefaultConfig returns resilient retry on, integrity retry off, read
// committed isolation and a request-scoped cache only.
func DefaultConfig() *Config {
	return &Config{
		Prefix:       "tessera",
		Isolation:    database.IsolationReadCommitted,
		DefaultRetry: RetryPolicy{Resilient: true},
		Serializer:   serializer.Binary,
	}
}

// Session owns one connection, its transaction state and its cache.
// It is not safe for concurrent use.
type Session struct {
	id     string
	conn   database.Conn
	cfg    Config
	benign map[string]struct{}
	cache  *cache.Factory
	log    *logger.Logger

	state State
	cause error
	hooks []func(committed bool)

	sleep func(ctx context.Context, d time.Duration) error
}

// New wraps conn. A nil cfg uses DefaultConfig.
func New(conn database.Conn, cfg *Config) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Prefix == "" {
		c.Prefix = "tessera"
	}

	codes := c.BenignCodes
	if len(codes) == 0 {
		codes = conn.Dialect().BenignCodes()
	}
	benign := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		benign[code] = struct{}{}
	}

	id := uuid.NewString()
	log := c.Logger.With().
		Str("session", id).
		Str("driver", string(conn.Dialect().Name())).
		Logger()

	return &Session{
		id:     id,
		conn:   conn,
		cfg:    c,
		benign: benign,
		cache: cache.NewFactory(c.Prefix, cache.FactoryConfig{
			Serializer: c.Serializer,
			Backend:    c.Backend,
			Logger:     log,
		}),
		log:   log,
		sleep: sleepContext,
	}
}

// ID returns the session's unique id, as logged.
func (s *Session) ID() string { return s.id }

func (s *Session) Logger() *logger.Logger { return s.log }

func (s *Session) Dialect() database.Dialect { return s.conn.Dialect() }

func (s *Session) State() State { return s.state }

// IsDoomed reports whether the active transaction can no longer commit.
func (s *Session) IsDoomed() bool { return s.state == StateDoomed }

// DoomCause returns the error that doomed the transaction, or nil.
func (s *Session) DoomCause() error { return s.cause }

// Cache returns the memoized store for binary.
func (s *Session) Cache(binary string) *cache.Store {
	return s.cache.Get(binary)
}

// CacheFactory exposes the session's cache factory.
func (s *Session) CacheFactory() *cache.Factory { return s.cache }

// OnTransactionEnd registers fn to run after every commit or rollback.
// committed is true only when a physical commit succeeded.
func (s *Session) OnTransactionEnd(fn func(committed bool)) {
	s.hooks = append(s.hooks, fn)
}

// Begin opens a transaction.
func (s *Session) Begin(ctx context.Context) error {
	if s.state != StateIdle {
		return errs.New(errs.ErrKindInvalidState, "transaction already open")
	}
	err := s.conn.Begin(ctx, database.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		if !errs.IsConnection(err) {
			err = errs.WrapCode(errs.ErrKindConnectionFailed, errs.CodeOf(err), "failed to begin transaction", err)
		}
		return err
	}
	s.state = StateActive
	s.cause = nil
	return nil
}

// Commit commits the open transaction. A doomed transaction is never
// physically committed: the doom is cleared and the original cause is
// returned as a DoomedTransaction error.
func (s *Session) Commit(ctx context.Context) error {
	switch s.state {
	case StateIdle:
		return errs.New(errs.ErrKindInvalidState, "no transaction to commit")

	case StateDoomed:
		cause := s.cause
		s.state, s.cause = StateIdle, nil
		// The engine will refuse the commit anyway; release its transaction.
		if err := s.conn.Rollback(ctx); err != nil {
			s.log.WarnWith("rollback of doomed transaction failed", err, nil)
		}
		s.endTransaction(false)
		return s.doomedError(cause)
	}

	s.state = StateIdle
	err := s.conn.Commit(ctx)
	s.endTransaction(err == nil)
	return err
}

// Rollback aborts the open transaction. Local state is reset to Idle even
// when the physical rollback fails; that failure is still returned.
func (s *Session) Rollback(ctx context.Context) error {
	prev := s.state
	s.state, s.cause = StateIdle, nil
	if prev == StateIdle {
		return nil
	}
	err := s.conn.Rollback(ctx)
	s.endTransaction(false)
	return err
}

func (s *Session) endTransaction(committed bool) {
	for _, fn := range s.hooks {
		fn(committed)
	}
}

// NotifyFailure records err against the active transaction. The first
// non-benign error dooms it; later errors are ignored.
func (s *Session) NotifyFailure(err error) {
	if err == nil || s.state != StateActive {
		return
	}
	if s.IsBenign(err) {
		s.log.DebugWith("benign error ignored", map[string]interface{}{"code": errs.CodeOf(err)})
		return
	}
	s.state = StateDoomed
	s.cause = err
	s.log.WarnWith("transaction doomed", err, map[string]interface{}{"kind": errs.KindOf(err).String()})
}

// IsBenign reports whether err carries a native code on the allow-list.
func (s *Session) IsBenign(err error) bool {
	code := errs.CodeOf(err)
	if code == "" {
		return false
	}
	_, ok := s.benign[code]
	return ok
}

func (s *Session) doomedError(cause error) *errs.Error {
	return errs.WrapCode(errs.ErrKindDoomedTransaction, errs.CodeOf(cause), "transaction is doomed", cause)
}

// Prepare readies query. Retry options are consumed here; only driver
// hints reach the connection.
func (s *Session) Prepare(ctx context.Context, query string, opts ...Option) (*Statement, error) {
	o := prepareOptions{retry: s.cfg.DefaultRetry}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := s.conn.Prepare(ctx, query, o.driver)
	if err != nil {
		s.NotifyFailure(err)
		return nil, err
	}
	return newStatement(s, raw, query, o.retry), nil
}

// RawExecute prepares query as a direct query and executes it once.
func (s *Session) RawExecute(ctx context.Context, query string, args ...any) (*Statement, error) {
	st, err := s.Prepare(ctx, query, WithDirect())
	if err != nil {
		return nil, err
	}
	if err := st.Execute(ctx, args...); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// Exec runs a statement that returns no rows, typically DDL. It is not
// retried.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if s.state == StateDoomed {
		return 0, s.doomedError(s.cause)
	}
	n, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		s.NotifyFailure(err)
		return 0, err
	}
	return n, nil
}

// Close rolls back any open transaction and releases the connection.
func (s *Session) Close(ctx context.Context) error {
	if s.state != StateIdle {
		if err := s.Rollback(ctx); err != nil {
			s.log.WarnWith("rollback on close failed", err, nil)
		}
	}
	return s.conn.Close(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
)

// ParamType tells BindParameter how to treat a value.
type ParamType int

const (
	ParamDefault ParamType = iota
	ParamNull
	ParamLOB // large binary, bound through a buffered stream
)

// NamedValue is one value of a BindValues batch.
type NamedValue struct {
	Name  string
	Value any
}

type binding struct {
	name  string
	value any
	typ   ParamType
}

// Statement is a prepared query bound to a Session. Parameters are passed
// positionally in bind order; rebinding a name replaces its value in place.
type Statement struct {
	sess      *Session
	raw       database.RawStmt
	query     string
	signature string
	retry     RetryPolicy

	bindings []binding
	index    map[string]int

	result  *database.ResultSet
	cursor  int
	current []any
}

func newStatement(s *Session, raw database.RawStmt, query string, retry RetryPolicy) *Statement {
	return &Statement{
		sess:      s,
		raw:       raw,
		query:     query,
		signature: Signature(query),
		retry:     retry,
		index:     make(map[string]int),
	}
}

// Signature is the cache key of a query text: the hex blake3 digest.
func Signature(query string) string {
	sum := blake3.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

func (st *Statement) Query() string { return st.query }

func (st *Statement) Signature() string { return st.signature }

func (st *Statement) RetryPolicy() RetryPolicy { return st.retry }

// BindParameter records a value for execution. The statement keeps its own
// copy: LOB streams are drained into a buffer held until the statement is
// closed, and byte slices and pointed-to values are copied, so the caller
// may reuse its variables before Execute.
func (st *Statement) BindParameter(name string, value any, typ ParamType) error {
	name = strings.TrimLeft(name, ":@")

	var v any
	switch {
	case typ == ParamNull:
		v = nil
	case typ == ParamLOB:
		buf, err := materialize(value)
		if err != nil {
			return err
		}
		v = buf
	default:
		if r, ok := value.(io.Reader); ok {
			buf, err := materialize(r)
			if err != nil {
				return err
			}
			v, typ = buf, ParamLOB
		} else {
			v = snapshot(value)
		}
	}

	b := binding{name: name, value: v, typ: typ}
	if i, ok := st.index[name]; ok && name != "" {
		st.bindings[i] = b
		return nil
	}
	st.index[name] = len(st.bindings)
	st.bindings = append(st.bindings, b)
	return nil
}

// BindValues binds a batch. Columns whose metadata marks them as large
// objects go through the stream path.
func (st *Statement) BindValues(values []NamedValue, columns map[string]schema.ColumnInfo) error {
	for _, nv := range values {
		typ := ParamDefault
		if nv.Value == nil {
			typ = ParamNull
		} else if c, ok := columns[nv.Name]; ok && c.IsLOB() {
			typ = ParamLOB
		}
		if err := st.BindParameter(nv.Name, nv.Value, typ); err != nil {
			return err
		}
	}
	return nil
}

// ClearBindings drops every bound value and its buffers.
func (st *Statement) ClearBindings() {
	st.bindings = nil
	st.index = make(map[string]int)
}

func (st *Statement) boundArgs() []any {
	args := make([]any, len(st.bindings))
	for i, b := range st.bindings {
		args[i] = b.value
	}
	return args
}

func materialize(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.Clone(v), nil
	case string:
		return []byte(v), nil
	case io.Reader:
		buf, err := io.ReadAll(v)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindDriver, "failed to read stream parameter", err)
		}
		return buf, nil
	}
	return nil, errs.New(errs.ErrKindDriver, fmt.Sprintf("cannot stream parameter of type %T", value))
}

func snapshot(value any) any {
	switch v := value.(type) {
	case []byte:
		return bytes.Clone(v)
	case *[]byte:
		if v == nil {
			return nil
		}
		return bytes.Clone(*v)
	case *string:
		if v == nil {
			return nil
		}
		return *v
	case *int64:
		if v == nil {
			return nil
		}
		return *v
	case *int:
		if v == nil {
			return nil
		}
		return *v
	case *float64:
		if v == nil {
			return nil
		}
		return *v
	case *bool:
		if v == nil {
			return nil
		}
		return *v
	case *time.Time:
		if v == nil {
			return nil
		}
		return *v
	}
	return value
}

// Execute runs the statement with args, or with the bound parameters when
// args is empty. Transient errors allowed by the retry policy are retried
// up to RetryMax times with linear backoff; every error that escapes is
// reported to the session first.
func (st *Statement) Execute(ctx context.Context, args ...any) error {
	st.result, st.cursor, st.current = nil, 0, nil

	if st.sess.IsDoomed() {
		return st.sess.doomedError(st.sess.cause)
	}
	if len(args) == 0 {
		args = st.boundArgs()
	}

	var (
		rs  *database.ResultSet
		err error
	)
	for attempt := 1; attempt <= RetryMax+1; attempt++ {
		rs, err = st.raw.Execute(ctx, args)
		if err == nil && rs == nil {
			err = st.logicalFailure()
		}
		if err == nil || attempt > RetryMax || !st.retry.allows(err) {
			break
		}

		delay := time.Duration(attempt) * RetryDelay
		st.sess.log.WarnWith("retrying statement", err, map[string]interface{}{
			"attempt":   attempt,
			"delay":     delay.String(),
			"signature": st.signature,
		})
		if serr := st.sess.sleep(ctx, delay); serr != nil {
			err = errs.Wrap(errs.ErrKindConnectionFailed, "aborted while waiting to retry", serr)
			break
		}
	}

	if err != nil {
		st.sess.NotifyFailure(err)
		return err
	}
	st.result = rs
	return nil
}

// logicalFailure builds an error from the connection's error state for a
// driver that reported failure without raising one.
func (st *Statement) logicalFailure() error {
	info := st.sess.conn.ErrorInfo()
	if info.Empty() {
		return errs.New(errs.ErrKindDriver, "statement failed without error information")
	}
	return errs.WrapCode(errs.ErrKindDriver, info.Code, "statement failed: "+info.Message, nil)
}

// Close releases the driver statement and any retained buffers.
func (st *Statement) Close() error {
	st.ClearBindings()
	st.result = nil
	return st.raw.Close()
}

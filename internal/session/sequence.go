package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/koustreak/tessera/internal/errs"
)

// NextSequenceValue returns an id from the named sequence that is strictly
// greater than minExclusive.
//
// A missing sequence is created starting at minExclusive+2 and the creator
// takes minExclusive+1 for itself, so sessions racing the creation never
// share a value: the loser of the create sees "already exists" and reads
// normally. A sequence found at or below minExclusive is restarted at
// minExclusive+1.
func (s *Session) NextSequenceValue(ctx context.Context, minExclusive int64, name string) (int64, error) {
	d := s.conn.Dialect()

	v, err := s.readSequence(ctx, name)
	if err != nil {
		if !errs.IsObjectNotFound(err) {
			return 0, err
		}
		_, cerr := s.Exec(ctx, d.CreateSequence(name, minExclusive+2, minExclusive+1))
		if cerr == nil {
			s.log.DebugWith("sequence created", map[string]interface{}{"sequence": name, "start": minExclusive + 2})
			return minExclusive + 1, nil
		}
		if !errs.IsObjectExists(cerr) {
			return 0, cerr
		}
		if v, err = s.readSequence(ctx, name); err != nil {
			return 0, err
		}
	}

	if v <= minExclusive {
		if _, err := s.Exec(ctx, d.RestartSequence(name, minExclusive+1)); err != nil {
			return 0, err
		}
		return s.readSequence(ctx, name)
	}
	return v, nil
}

func (s *Session) readSequence(ctx context.Context, name string) (int64, error) {
	st, err := s.RawExecute(ctx, s.conn.Dialect().NextSequenceValue(name))
	if err != nil {
		return 0, err
	}
	defer st.Close()

	v, ok := st.FetchField(0)
	if !ok {
		return 0, errs.New(errs.ErrKindDriver, "sequence "+name+" returned no value")
	}
	return toInt64(v)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, errs.New(errs.ErrKindDriver, fmt.Sprintf("unexpected sequence value type %T", v))
}

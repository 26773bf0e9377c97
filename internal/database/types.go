package database

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/tessera/internal/errs"
)

// PrepareOptions are the hints a driver understands. Retry policy is not
// among them: the session consumes it before the driver sees the request.
type PrepareOptions struct {
	// Direct asks the driver to send the text as-is instead of creating a
	// server-side prepared statement.
	Direct bool
}

// IsolationLevel is the closed set of transaction isolation levels.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "read_uncommitted"
	IsolationReadCommitted   IsolationLevel = "read_committed"
	IsolationRepeatableRead  IsolationLevel = "repeatable_read"
	IsolationSnapshot        IsolationLevel = "snapshot"
	IsolationSerializable    IsolationLevel = "serializable"
)

// ParseIsolationLevel validates s against the closed set.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch l := IsolationLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case IsolationDefault, IsolationReadUncommitted, IsolationReadCommitted,
		IsolationRepeatableRead, IsolationSnapshot, IsolationSerializable:
		return l, nil
	}
	return "", errs.New(errs.ErrKindConfiguration, fmt.Sprintf("unknown isolation level %q", s))
}

// TxOptions configure Begin.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// ErrorInfo is the error state a driver records for its last failure,
// mirroring what the engine would report through its diagnostics call.
type ErrorInfo struct {
	Code    string // error number or SQLSTATE
	Message string
}

// Empty reports whether no error has been recorded.
func (e ErrorInfo) Empty() bool {
	return e.Code == "" && e.Message == ""
}

// ColumnMeta describes one result column as reported by the driver.
type ColumnMeta struct {
	Name         string
	DatabaseType string // engine type name, upper case (NVARCHAR, INT4, …)
	Length       int64  // -1 when not applicable or unbounded
	Precision    int64
	Scale        int64
	Nullable     bool
}

// ResultSet is a fully buffered result. Statements that return no rows
// produce an empty ResultSet with RowsAffected set.
type ResultSet struct {
	Columns      []ColumnMeta
	Rows         [][]any
	RowsAffected int64
}

// ColumnNames returns the column names in result order.
func (rs *ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyPairs maps the first column to the second for a two-column result.
// Later rows overwrite earlier ones on duplicate keys.
func (rs *ResultSet) KeyPairs() map[string]any {
	out := make(map[string]any, len(rs.Rows))
	for _, r := range rs.Rows {
		out[KeyString(r[0])] = r[1]
	}
	return out
}

// KeyString renders a scanned value as a map key.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

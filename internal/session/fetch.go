package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/database"
	"github.com/koustreak/tessera/internal/errs"
)

// TypeTag is the engine-neutral class of a result column.
type TypeTag string

const (
	TypeString   TypeTag = "string"
	TypeInteger  TypeTag = "integer"
	TypeFloat    TypeTag = "float"
	TypeDecimal  TypeTag = "decimal"
	TypeBool     TypeTag = "bool"
	TypeBinary   TypeTag = "binary"
	TypeDateTime TypeTag = "datetime"
	TypeOther    TypeTag = "other"
)

// ColumnMetadata is the cached description of one result column.
type ColumnMetadata struct {
	Name       string
	NativeType string
	Tag        TypeTag
	Length     int64
	Precision  int64
	Scale      int64
	Nullable   bool
}

// NormalizeType maps an engine type name to its TypeTag.
func NormalizeType(native string) TypeTag {
	t := strings.ToUpper(native)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "MEDIUMINT",
		"INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL":
		return TypeInteger
	case "BIT", "BOOL", "BOOLEAN":
		return TypeBool
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return TypeDecimal
	case "FLOAT", "REAL", "DOUBLE", "FLOAT4", "FLOAT8":
		return TypeFloat
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET",
		"TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMETZ":
		return TypeDateTime
	case "BINARY", "VARBINARY", "IMAGE", "BYTEA", "BLOB", "TINYBLOB",
		"MEDIUMBLOB", "LONGBLOB":
		return TypeBinary
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "BPCHAR",
		"UNIQUEIDENTIFIER", "UUID", "XML", "JSON", "JSONB", "SYSNAME":
		return TypeString
	}
	return TypeOther
}

var errNotExecuted = errs.New(errs.ErrKindInvalidState, "statement has not been executed")

// CachedColumnMetadata describes the result columns. The description is
// cached per query signature, so later statements with the same text skip
// deriving it.
func (st *Statement) CachedColumnMetadata(ctx context.Context) ([]ColumnMetadata, error) {
	store := st.sess.Cache(cache.BinaryStatementMetadata)
	if meta, ok := cache.Load[[]ColumnMetadata](ctx, store, st.signature); ok {
		return meta, nil
	}
	if st.result == nil {
		return nil, errNotExecuted
	}

	meta := make([]ColumnMetadata, len(st.result.Columns))
	for i, c := range st.result.Columns {
		meta[i] = ColumnMetadata{
			Name:       c.Name,
			NativeType: c.DatabaseType,
			Tag:        NormalizeType(c.DatabaseType),
			Length:     c.Length,
			Precision:  c.Precision,
			Scale:      c.Scale,
			Nullable:   c.Nullable,
		}
	}
	store.Set(ctx, st.signature, meta)
	return meta, nil
}

// Columns returns the result column names.
func (st *Statement) Columns() []string {
	if st.result == nil {
		return nil
	}
	return st.result.ColumnNames()
}

// RowCount reports the rows returned or affected by the last execution.
func (st *Statement) RowCount() int64 {
	if st.result == nil {
		return 0
	}
	return st.result.RowsAffected
}

func (st *Statement) remaining() [][]any {
	if st.result == nil || st.cursor >= len(st.result.Rows) {
		return nil
	}
	rows := st.result.Rows[st.cursor:]
	st.cursor = len(st.result.Rows)
	return rows
}

// FetchRow returns the next row keyed by column name.
func (st *Statement) FetchRow() (map[string]any, bool) {
	row, ok := st.next()
	if !ok {
		return nil, false
	}
	return st.assoc(row), true
}

// FetchField returns column i of the next row.
func (st *Statement) FetchField(i int) (any, bool) {
	row, ok := st.next()
	if !ok || i < 0 || i >= len(row) {
		return nil, false
	}
	return row[i], true
}

// FetchAll returns every remaining row keyed by column name.
func (st *Statement) FetchAll() []map[string]any {
	rows := st.remaining()
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = st.assoc(r)
	}
	return out
}

// FetchAllKeyed maps column keyIndex to column valueIndex over the
// remaining rows. Keys are rendered as strings; on duplicate keys the last
// row wins.
func (st *Statement) FetchAllKeyed(keyIndex, valueIndex int) (map[string]any, error) {
	if st.result == nil {
		return nil, errNotExecuted
	}
	width := len(st.result.Columns)
	if keyIndex < 0 || keyIndex >= width || valueIndex < 0 || valueIndex >= width {
		return nil, errs.New(errs.ErrKindInvalidState,
			fmt.Sprintf("column index out of range for %d-column result", width))
	}

	rows := st.remaining()
	if width == 2 && keyIndex == 0 && valueIndex == 1 {
		rs := &database.ResultSet{Columns: st.result.Columns, Rows: rows}
		return rs.KeyPairs(), nil
	}

	out := make(map[string]any, len(rows))
	for _, r := range rows {
		out[database.KeyString(r[keyIndex])] = r[valueIndex]
	}
	return out, nil
}

// Next advances the cursor for Scan. It returns false once the rows are
// exhausted or the statement has no result.
func (st *Statement) Next() bool {
	row, ok := st.next()
	st.current = row
	return ok
}

// Scan copies the current row into dest, which must hold one pointer per
// column. Supported targets are *any, *string, *[]byte, *int64, *float64
// and *bool.
func (st *Statement) Scan(dest ...any) error {
	if st.current == nil {
		return errs.New(errs.ErrKindInvalidState, "Scan called without a successful Next")
	}
	if len(dest) != len(st.current) {
		return errs.New(errs.ErrKindInvalidState,
			fmt.Sprintf("expected %d destinations, got %d", len(st.current), len(dest)))
	}
	for i, v := range st.current {
		if err := assign(dest[i], v); err != nil {
			return errs.Wrap(errs.ErrKindInvalidState,
				fmt.Sprintf("column %q", st.result.Columns[i].Name), err)
		}
	}
	return nil
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *any:
		*d = v
	case *string:
		switch x := v.(type) {
		case nil:
			*d = ""
		case string:
			*d = x
		case []byte:
			*d = string(x)
		default:
			*d = fmt.Sprint(x)
		}
	case *[]byte:
		switch x := v.(type) {
		case nil:
			*d = nil
		case []byte:
			*d = bytes.Clone(x)
		case string:
			*d = []byte(x)
		default:
			return fmt.Errorf("cannot scan %T into *[]byte", v)
		}
	case *int64:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		*d = n
	case *float64:
		switch x := v.(type) {
		case float64:
			*d = x
		case float32:
			*d = float64(x)
		default:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("cannot scan %T into *float64", v)
			}
			*d = float64(n)
		}
	case *bool:
		switch x := v.(type) {
		case bool:
			*d = x
		default:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("cannot scan %T into *bool", v)
			}
			*d = n != 0
		}
	default:
		return fmt.Errorf("unsupported scan destination %T", dest)
	}
	return nil
}

func (st *Statement) next() ([]any, bool) {
	if st.result == nil || st.cursor >= len(st.result.Rows) {
		return nil, false
	}
	row := st.result.Rows[st.cursor]
	st.cursor++
	return row, true
}

func (st *Statement) assoc(row []any) map[string]any {
	m := make(map[string]any, len(row))
	for i, c := range st.result.Columns {
		m[c.Name] = row[i]
	}
	return m
}

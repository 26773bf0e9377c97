package database

import "github.com/koustreak/tessera/internal/errs"

// Rows is the cursor shape shared by database/sql and pgx result sets.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Buffer drains rows into a ResultSet with the given column metadata.
// Values are scanned as the driver's Go-native representation; []byte
// values are copied because drivers may reuse their buffers.
//
// The caller still owns closing rows.
func Buffer(rows Rows, columns []ColumnMeta) (*ResultSet, error) {
	rs := &ResultSet{Columns: columns, Rows: make([][]any, 0)}

	for rows.Next() {
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindDriver, "failed to scan row", err)
		}
		for i, v := range dest {
			if b, ok := v.([]byte); ok {
				dest[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, dest)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	rs.RowsAffected = int64(len(rs.Rows))
	return rs, nil
}

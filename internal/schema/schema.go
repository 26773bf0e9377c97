// Package schema holds the table metadata the catalog introspects and caches.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/koustreak/tessera/internal/errs"
)

// SchemaInfo is everything the session layer knows about one table.
type SchemaInfo struct {
	Schema string
	Table  string

	// IdentityColumn is the first identity column, if any.
	IdentityColumn  string
	IdentityColumns map[string]bool

	Columns map[string]ColumnInfo

	// ColumnsClean excludes internal columns whose names start with "__".
	ColumnsClean map[string]ColumnInfo

	Indexes         map[string]IndexInfo
	PrimaryKeyIndex string
}

// New returns an empty SchemaInfo for schema.table.
func New(schemaName, table string) *SchemaInfo {
	return &SchemaInfo{
		Schema:          schemaName,
		Table:           table,
		IdentityColumns: make(map[string]bool),
		Columns:         make(map[string]ColumnInfo),
		ColumnsClean:    make(map[string]ColumnInfo),
		Indexes:         make(map[string]IndexInfo),
	}
}

// AddColumn records c and keeps the identity and clean views in step.
func (s *SchemaInfo) AddColumn(c ColumnInfo) {
	s.Columns[c.Name] = c
	if !strings.HasPrefix(c.Name, "__") {
		s.ColumnsClean[c.Name] = c
	}
	if c.IsIdentity {
		s.IdentityColumns[c.Name] = true
		if s.IdentityColumn == "" {
			s.IdentityColumn = c.Name
		}
	}
}

// Valid reports whether s may be served from cache. A table always has at
// least one column, so an empty column set means introspection failed.
func (s *SchemaInfo) Valid() bool {
	return s != nil && len(s.Columns) > 0
}

// Column looks a column up by name. Identifiers compare case-insensitively
// under the default collation.
func (s *SchemaInfo) Column(name string) (ColumnInfo, bool) {
	if c, ok := s.Columns[name]; ok {
		return c, true
	}
	for n, c := range s.Columns {
		if strings.EqualFold(n, name) {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// HasColumn reports whether the table has the named column.
func (s *SchemaInfo) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// PrimaryKey returns the primary key index, if the table has one.
func (s *SchemaInfo) PrimaryKey() (IndexInfo, bool) {
	if s.PrimaryKeyIndex == "" {
		return IndexInfo{}, false
	}
	idx, ok := s.Indexes[s.PrimaryKeyIndex]
	return idx, ok
}

// Clone returns a deep copy of s. Cached SchemaInfo values are shared, so
// callers get a clone they may modify freely.
func (s *SchemaInfo) Clone() *SchemaInfo {
	if s == nil {
		return nil
	}
	out := New(s.Schema, s.Table)
	out.PrimaryKeyIndex = s.PrimaryKeyIndex
	for _, c := range s.Columns {
		c.Dependencies = append([]string(nil), c.Dependencies...)
		out.AddColumn(c)
	}
	// AddColumn picks the first identity it sees; keep the original one.
	out.IdentityColumn = s.IdentityColumn
	for name, idx := range s.Indexes {
		idx.Columns = append([]IndexColumn(nil), idx.Columns...)
		out.Indexes[name] = idx
	}
	return out
}

// XMLIndex returns the name of an XML index on the table. With several,
// the first by name is returned.
func (s *SchemaInfo) XMLIndex() (string, bool) {
	var names []string
	for name, idx := range s.Indexes {
		if strings.EqualFold(idx.Type, "xml") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return names[0], true
}

// ColumnDetails returns the named columns. Every name must exist.
func (s *SchemaInfo) ColumnDetails(names ...string) (map[string]ColumnInfo, error) {
	out := make(map[string]ColumnInfo, len(names))
	for _, n := range names {
		c, ok := s.Column(n)
		if !ok {
			return nil, errs.New(errs.ErrKindSchemaNotFound,
				fmt.Sprintf("column %s does not exist in %s.%s", n, s.Schema, s.Table))
		}
		out[n] = c
	}
	return out, nil
}

// ClusteredIndexRowSize estimates the bytes one row of a clustered index
// on fields occupies, per the engine's documented sizing formula. A
// non-unique index carries a 4 byte uniqueifier. (max) columns count as
// in-row pointers of zero declared length.
func (s *SchemaInfo) ClusteredIndexRowSize(fields []string, unique bool) (int64, error) {
	cols, err := s.ColumnDetails(fields...)
	if err != nil {
		return 0, err
	}

	numCols := int64(len(fields))
	var numVariable, maxVar, maxFixed int64
	for _, c := range cols {
		if c.IsVariableLength() {
			numVariable++
			if c.MaxLength > 0 {
				maxVar += c.MaxLength
			}
		} else {
			maxFixed += c.MaxLength
		}
	}
	if !unique {
		numCols++
		numVariable++
		maxVar += 4
	}

	nullBitmap := 2 + (numCols+7)/8
	var variable int64
	if numVariable > 0 {
		variable = 2 + numVariable*2 + maxVar
	}
	return maxFixed + variable + nullBitmap + 4, nil
}

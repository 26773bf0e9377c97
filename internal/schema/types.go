package schema

import (
	"fmt"
	"strings"

	"github.com/koustreak/tessera/internal/errs"
)

// ColumnInfo describes a single column in a table
type ColumnInfo struct {
	Name      string
	Type      string // engine base type, lower case: nvarchar, int, decimal, ...
	MaxLength int64  // bytes as stored by the engine; -1 for (max)
	Precision int64
	Scale     int64
	Collation string
	Nullable  bool
	Default   string // default constraint definition, empty if none

	IsIdentity bool
	IsComputed bool

	// Dependencies lists the columns a computed expression references.
	Dependencies []string

	// SQLTypeWithLength is the type as it would appear in DDL: nvarchar(50).
	SQLTypeWithLength string
}

// IsLOB reports whether values of this column must be bound as streams.
func (c ColumnInfo) IsLOB() bool {
	switch c.Type {
	case "image", "text", "ntext":
		return true
	case "varbinary", "varchar", "nvarchar":
		return c.MaxLength == -1
	}
	return false
}

// IsVariableLength reports whether the column is stored in the variable
// part of a row.
func (c ColumnInfo) IsVariableLength() bool {
	switch c.Type {
	case "varchar", "nvarchar", "varbinary", "text", "ntext", "image":
		return true
	}
	return false
}

// IndexColumn is one key column of an index, in key order.
type IndexColumn struct {
	Name       string
	Descending bool
}

// IndexInfo describes an index and its ordered key columns.
type IndexInfo struct {
	Name    string
	Type    string // clustered, nonclustered, ...
	Unique  bool
	Primary bool
	Columns []IndexColumn
}

// ColumnNames returns the key columns in order.
func (i IndexInfo) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for n, c := range i.Columns {
		names[n] = c.Name
	}
	return names
}

// TypeWithLength renders the DDL form of a column type from its catalog
// attributes. max_length is in bytes, so national types halve it.
func TypeWithLength(typ string, maxLength, precision, scale int64) string {
	typ = strings.ToLower(typ)
	switch typ {
	case "nvarchar", "nchar":
		if maxLength == -1 {
			return typ + "(max)"
		}
		return fmt.Sprintf("%s(%d)", typ, maxLength/2)
	case "varchar", "char", "varbinary", "binary":
		if maxLength == -1 {
			return typ + "(max)"
		}
		return fmt.Sprintf("%s(%d)", typ, maxLength)
	case "decimal", "numeric":
		return fmt.Sprintf("%s(%d,%d)", typ, precision, scale)
	case "datetime2", "datetimeoffset", "time":
		return fmt.Sprintf("%s(%d)", typ, scale)
	}
	return typ
}

// ConstraintKind is the closed set of table constraint kinds.
type ConstraintKind string

const (
	ConstraintPrimaryKey ConstraintKind = "primary_key"
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintDefault    ConstraintKind = "default"
)

// ParseConstraintKind validates s against the closed set.
func ParseConstraintKind(s string) (ConstraintKind, error) {
	switch k := ConstraintKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ConstraintPrimaryKey, ConstraintUnique, ConstraintForeignKey, ConstraintCheck, ConstraintDefault:
		return k, nil
	}
	return "", errs.New(errs.ErrKindConfiguration, fmt.Sprintf("unknown constraint kind %q", s))
}

// ObjectType is the sys.objects type code for the constraint kind.
func (k ConstraintKind) ObjectType() string {
	switch k {
	case ConstraintPrimaryKey:
		return "PK"
	case ConstraintUnique:
		return "UQ"
	case ConstraintForeignKey:
		return "F"
	case ConstraintCheck:
		return "C"
	case ConstraintDefault:
		return "D"
	}
	return ""
}

// RecoveryModel is the closed set of database recovery models.
type RecoveryModel string

const (
	RecoveryFull       RecoveryModel = "full"
	RecoveryBulkLogged RecoveryModel = "bulk_logged"
	RecoverySimple     RecoveryModel = "simple"
)

// ParseRecoveryModel accepts the engine's spelling (FULL, BULK_LOGGED,
// SIMPLE) in any case.
func ParseRecoveryModel(s string) (RecoveryModel, error) {
	switch m := RecoveryModel(strings.ToLower(strings.TrimSpace(s))); m {
	case RecoveryFull, RecoveryBulkLogged, RecoverySimple:
		return m, nil
	}
	return "", errs.New(errs.ErrKindConfiguration, fmt.Sprintf("unknown recovery model %q", s))
}

// SQL returns the keyword used in ALTER DATABASE ... SET RECOVERY.
func (m RecoveryModel) SQL() string {
	return strings.ToUpper(string(m))
}

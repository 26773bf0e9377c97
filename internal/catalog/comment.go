package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/koustreak/tessera/internal/session"
)

const descriptionProperty = "MS_Description"

// commentMemo is a description written in the open transaction.
type commentMemo struct {
	value  string
	exists bool
}

// CommentGet returns the description of table, or of one of its columns
// when column is not empty.
func (c *Catalog) CommentGet(ctx context.Context, table, column string) (string, bool, error) {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return "", false, err
	}

	const q = `
		SELECT CAST(value AS nvarchar(max))
		FROM fn_listextendedproperty(@p1, 'SCHEMA', @p2, 'TABLE', @p3, @p4, @p5)`

	var level2Type, level2Name any
	if column != "" {
		level2Type, level2Name = "COLUMN", column
	}
	st, err := c.query(ctx, q, descriptionProperty, schemaName, name, level2Type, level2Name)
	if err != nil {
		return "", false, err
	}
	defer st.Close()

	v, ok := st.FetchField(0)
	if !ok {
		return "", false, nil
	}
	return asString(v), true, nil
}

// CommentCreate builds the statement that sets the description of table
// (or column). An empty comment drops the description. It returns "" when
// the statement would be redundant.
//
// The catalog does not show extended properties written earlier in the
// same uncommitted transaction, so writes are remembered until the
// transaction ends and used to pick between add, update and drop.
func (c *Catalog) CommentCreate(ctx context.Context, table, column, comment string) (string, error) {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return "", err
	}
	key := strings.ToLower(schemaName + "." + name + "." + column)
	inTx := c.sess.State() != session.StateIdle

	prev, known := commentMemo{}, false
	if inTx {
		prev, known = c.comments[key]
	}
	if !known {
		if prev.value, prev.exists, err = c.CommentGet(ctx, table, column); err != nil {
			return "", err
		}
	}

	var proc string
	switch {
	case comment == "" && !prev.exists:
		return "", nil
	case comment == "":
		proc = "sp_dropextendedproperty"
	case prev.exists && prev.value == comment:
		return "", nil
	case prev.exists:
		proc = "sp_updateextendedproperty"
	default:
		proc = "sp_addextendedproperty"
	}
	if inTx {
		c.comments[key] = commentMemo{value: comment, exists: comment != ""}
	}

	ddl := fmt.Sprintf("EXEC %s @name = %s", proc, literal(descriptionProperty))
	if comment != "" {
		ddl += ", @value = " + literal(comment)
	}
	ddl += fmt.Sprintf(", @level0type = N'SCHEMA', @level0name = %s, @level1type = N'TABLE', @level1name = %s",
		literal(schemaName), literal(name))
	if column != "" {
		ddl += ", @level2type = N'COLUMN', @level2name = " + literal(column)
	}
	return ddl, nil
}

// Comment sets the description of table (or column).
func (c *Catalog) Comment(ctx context.Context, table, column, comment string) error {
	ddl, err := c.CommentCreate(ctx, table, column, comment)
	if err != nil || ddl == "" {
		return err
	}
	_, err = c.sess.Exec(ctx, ddl)
	return err
}

// literal renders s as a national string literal.
func literal(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

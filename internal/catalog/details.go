package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/koustreak/tessera/internal/cache"
	"github.com/koustreak/tessera/internal/errs"
	"github.com/koustreak/tessera/internal/schema"
)

var bracketed = regexp.MustCompile(`\[([^\]]+)\]`)

// TableDetails returns the columns and indexes of table. Results are cached
// until Invalidate; a cached entry without columns is ignored and
// recomputed. The returned value is a copy the caller owns.
func (c *Catalog) TableDetails(ctx context.Context, table string) (*schema.SchemaInfo, error) {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return nil, err
	}

	store := c.sess.Cache(cache.BinaryTableDetails)
	key := tableKey(schemaName, name)
	if info, ok := cache.Load[*schema.SchemaInfo](ctx, store, key); ok && info.Valid() {
		return info.Clone(), nil
	}

	info, err := c.introspect(ctx, schemaName, name)
	if err != nil {
		return nil, err
	}

	if !info.Valid() {
		found, err := c.tableExistsDirect(ctx, schemaName, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errs.New(errs.ErrKindSchemaNotFound, fmt.Sprintf("table %s.%s does not exist", schemaName, name))
		}
		// An existing table always has columns; serve the empty result
		// uncached so the next call asks again.
		c.log.DebugWith("introspection returned no columns", map[string]interface{}{"table": key})
		return info, nil
	}

	store.Set(ctx, key, info)
	return info.Clone(), nil
}

// Invalidate drops everything cached about table. Call it after any DDL
// that touches the table.
func (c *Catalog) Invalidate(ctx context.Context, table string) error {
	schemaName, name, err := c.split(ctx, table)
	if err != nil {
		return err
	}
	key := tableKey(schemaName, name)
	c.sess.Cache(cache.BinaryTableDetails).Clear(ctx, key)
	c.sess.Cache(cache.BinaryTableExists).Clear(ctx, key)
	return nil
}

func (c *Catalog) introspect(ctx context.Context, schemaName, name string) (*schema.SchemaInfo, error) {
	info := schema.New(schemaName, name)
	obj := c.objectName(schemaName, name)

	// Temporary tables live in tempdb's catalog.
	sys := "sys"
	if isTemp(name) {
		sys = "tempdb.sys"
	}

	if err := c.loadColumns(ctx, info, sys, obj); err != nil {
		return nil, err
	}
	if err := c.loadIndexes(ctx, info, sys, obj); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Catalog) loadColumns(ctx context.Context, info *schema.SchemaInfo, sys, obj string) error {
	q := fmt.Sprintf(`
		SELECT c.name, t.name AS type_name, c.max_length, c.precision, c.scale,
		       c.collation_name, c.is_nullable, c.is_identity, c.is_computed,
		       d.definition AS default_definition, cc.definition AS computed_definition
		FROM %[1]s.columns c
		JOIN %[1]s.types t ON t.user_type_id = c.user_type_id
		LEFT JOIN %[1]s.default_constraints d ON d.object_id = c.default_object_id
		LEFT JOIN %[1]s.computed_columns cc ON cc.object_id = c.object_id AND cc.column_id = c.column_id
		WHERE c.object_id = OBJECT_ID(@p1)
		ORDER BY c.column_id`, sys)

	st, err := c.query(ctx, q, obj)
	if err != nil {
		return err
	}
	defer st.Close()

	definitions := make(map[string]string)
	for _, r := range st.FetchAll() {
		col := schema.ColumnInfo{
			Name:       asString(r["name"]),
			Type:       strings.ToLower(asString(r["type_name"])),
			MaxLength:  asInt64(r["max_length"]),
			Precision:  asInt64(r["precision"]),
			Scale:      asInt64(r["scale"]),
			Collation:  asString(r["collation_name"]),
			Nullable:   asBool(r["is_nullable"]),
			IsIdentity: asBool(r["is_identity"]),
			IsComputed: asBool(r["is_computed"]),
			Default:    asString(r["default_definition"]),
		}
		col.SQLTypeWithLength = schema.TypeWithLength(col.Type, col.MaxLength, col.Precision, col.Scale)
		info.AddColumn(col)
		if def := asString(r["computed_definition"]); def != "" {
			definitions[col.Name] = def
		}
	}

	// Dependencies need the full column list.
	for colName, def := range definitions {
		col := info.Columns[colName]
		col.Dependencies = computedDependencies(def, info)
		info.AddColumn(col)
	}
	return nil
}

// computedDependencies extracts the bracketed identifiers of a computed
// column definition that name columns of the table.
func computedDependencies(definition string, info *schema.SchemaInfo) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, m := range bracketed.FindAllStringSubmatch(definition, -1) {
		col, ok := info.Column(m[1])
		if !ok || seen[col.Name] {
			continue
		}
		seen[col.Name] = true
		deps = append(deps, col.Name)
	}
	return deps
}

func (c *Catalog) loadIndexes(ctx context.Context, info *schema.SchemaInfo, sys, obj string) error {
	q := fmt.Sprintf(`
		SELECT i.name, i.type_desc, i.is_unique, i.is_primary_key,
		       ac.name AS column_name, ic.is_descending_key
		FROM %[1]s.indexes i
		JOIN %[1]s.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN %[1]s.all_columns ac ON ac.object_id = ic.object_id AND ac.column_id = ic.column_id
		WHERE i.object_id = OBJECT_ID(@p1) AND i.name IS NOT NULL AND ic.is_included_column = 0
		ORDER BY i.index_id, ic.key_ordinal`, sys)

	st, err := c.query(ctx, q, obj)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, r := range st.FetchAll() {
		name := asString(r["name"])
		idx, ok := info.Indexes[name]
		if !ok {
			idx = schema.IndexInfo{
				Name:    name,
				Type:    strings.ToLower(asString(r["type_desc"])),
				Unique:  asBool(r["is_unique"]),
				Primary: asBool(r["is_primary_key"]),
			}
			if idx.Primary {
				info.PrimaryKeyIndex = name
			}
		}
		idx.Columns = append(idx.Columns, schema.IndexColumn{
			Name:       asString(r["column_name"]),
			Descending: asBool(r["is_descending_key"]),
		})
		info.Indexes[name] = idx
	}
	return nil
}

func (c *Catalog) drop(ctx context.Context, table, ddl string) error {
	if _, err := c.sess.Exec(ctx, ddl); err != nil {
		return err
	}
	if table == "" {
		return nil
	}
	return c.Invalidate(ctx, table)
}

// DropTable drops table and forgets it.
func (c *Catalog) DropTable(ctx context.Context, table string) error {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return err
	}
	return c.drop(ctx, table, "DROP TABLE "+obj)
}

// DropIndex drops index from table.
func (c *Catalog) DropIndex(ctx context.Context, table, index string) error {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return err
	}
	return c.drop(ctx, table, fmt.Sprintf("DROP INDEX %s ON %s", c.sess.Dialect().QuoteIdent(index), obj))
}

// DropConstraint drops the named constraint from table.
func (c *Catalog) DropConstraint(ctx context.Context, table, name string) error {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return err
	}
	return c.drop(ctx, table, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", obj, c.sess.Dialect().QuoteIdent(name)))
}

// DropStatistics drops the named statistics from table.
func (c *Catalog) DropStatistics(ctx context.Context, table, name string) error {
	obj, err := c.qualified(ctx, table)
	if err != nil {
		return err
	}
	return c.drop(ctx, table, fmt.Sprintf("DROP STATISTICS %s.%s", obj, c.sess.Dialect().QuoteIdent(name)))
}

func (c *Catalog) DropView(ctx context.Context, view string) error {
	obj, err := c.qualified(ctx, view)
	if err != nil {
		return err
	}
	return c.drop(ctx, "", "DROP VIEW "+obj)
}

func (c *Catalog) DropTrigger(ctx context.Context, trigger string) error {
	obj, err := c.qualified(ctx, trigger)
	if err != nil {
		return err
	}
	return c.drop(ctx, "", "DROP TRIGGER "+obj)
}

func (c *Catalog) DropFunction(ctx context.Context, function string) error {
	obj, err := c.qualified(ctx, function)
	if err != nil {
		return err
	}
	return c.drop(ctx, "", "DROP FUNCTION "+obj)
}

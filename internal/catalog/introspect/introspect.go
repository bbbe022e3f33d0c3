// Package introspect derives a catalog from live information_schema
// metadata, so a hand-written catalog file can always be regenerated.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/database"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Load reads every table of schema in the order the engine lists them.
// An empty schema means the dialect's default namespace.
func Load(ctx context.Context, db *database.DB, schema string) (catalog.Catalog, error) {
	return load(ctx, db.SQL(), db.Dialect(), schema)
}

func load(ctx context.Context, q queryer, dialect database.Dialect, schema string) (catalog.Catalog, error) {
	namespace, qualify, err := resolveSchema(ctx, q, dialect, schema)
	if err != nil {
		return catalog.Catalog{}, err
	}

	tables, err := loadColumns(ctx, q, dialect, namespace)
	if err != nil {
		return catalog.Catalog{}, err
	}
	if len(tables) == 0 {
		return catalog.Catalog{}, fmt.Errorf("introspect %s: schema %q has no tables", dialect, namespace)
	}
	if err := loadForeignKeys(ctx, q, dialect, namespace, tables); err != nil {
		return catalog.Catalog{}, err
	}

	out := make([]catalog.Table, 0, len(tables))
	for _, table := range tables {
		if qualify {
			table.Schema = namespace
			for i := range table.Columns {
				if ref := table.Columns[i].References; ref != nil {
					ref.Table = namespace + "." + ref.Table
				}
			}
		}
		out = append(out, *table)
	}
	return catalog.New(namespace, out)
}

func resolveSchema(ctx context.Context, q queryer, dialect database.Dialect, schema string) (string, bool, error) {
	schema = strings.TrimSpace(schema)
	var fallback string
	switch dialect {
	case database.Postgres:
		fallback = "public"
	case database.DuckDB:
		fallback = "main"
	case database.MySQL:
		if err := q.QueryRowContext(ctx, `SELECT DATABASE()`).Scan(&fallback); err != nil {
			return "", false, fmt.Errorf("resolve current mysql database: %w", err)
		}
	default:
		return "", false, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if schema == "" || strings.EqualFold(schema, fallback) {
		return fallback, false, nil
	}
	return schema, true, nil
}

type tableSet struct {
	order []*catalog.Table
	byKey map[string]*catalog.Table
}

func loadColumns(ctx context.Context, q queryer, dialect database.Dialect, schema string) ([]*catalog.Table, error) {
	query := `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = ` + placeholder(dialect) + `
ORDER BY table_name, ordinal_position`
	rows, err := q.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	set := tableSet{byKey: map[string]*catalog.Table{}}
	for rows.Next() {
		var tableName, columnName, dataType, nullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		table, ok := set.byKey[tableName]
		if !ok {
			table = &catalog.Table{Name: tableName}
			set.byKey[tableName] = table
			set.order = append(set.order, table)
		}
		table.Columns = append(table.Columns, catalog.Column{
			Name:     columnName,
			Type:     strings.ToUpper(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return set.order, nil
}

type foreignKey struct {
	table, column, refTable, refColumn string
}

func loadForeignKeys(ctx context.Context, q queryer, dialect database.Dialect, schema string, tables []*catalog.Table) error {
	var (
		fks []foreignKey
		err error
	)
	switch dialect {
	case database.DuckDB:
		fks, err = duckdbForeignKeys(ctx, q, schema)
	case database.MySQL:
		fks, err = scanForeignKeys(ctx, q, `
SELECT table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = ? AND referenced_table_name IS NOT NULL
ORDER BY table_name, ordinal_position`, schema)
	default:
		fks, err = scanForeignKeys(ctx, q, `
SELECT kcu.table_name, kcu.column_name, pk.table_name, pk.column_name
FROM information_schema.referential_constraints rc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_schema = rc.constraint_schema AND kcu.constraint_name = rc.constraint_name
JOIN information_schema.key_column_usage pk
  ON pk.constraint_schema = rc.unique_constraint_schema AND pk.constraint_name = rc.unique_constraint_name
 AND pk.ordinal_position = kcu.position_in_unique_constraint
WHERE kcu.table_schema = $1
ORDER BY kcu.table_name, kcu.ordinal_position`, schema)
	}
	if err != nil {
		return err
	}

	byName := make(map[string]*catalog.Table, len(tables))
	for _, table := range tables {
		byName[table.Name] = table
	}
	for _, fk := range fks {
		table, ok := byName[fk.table]
		if !ok {
			continue
		}
		if _, ok := byName[fk.refTable]; !ok {
			continue
		}
		for i := range table.Columns {
			if table.Columns[i].Name == fk.column {
				table.Columns[i].References = &catalog.ColumnRef{Table: fk.refTable, Column: fk.refColumn, Kind: "many-to-one"}
			}
		}
	}
	return nil
}

func scanForeignKeys(ctx context.Context, q queryer, query, schema string) ([]foreignKey, error) {
	rows, err := q.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	var out []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.table, &fk.column, &fk.refTable, &fk.refColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		out = append(out, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return out, nil
}

// DuckDB reports composite keys as parallel lists.
func duckdbForeignKeys(ctx context.Context, q queryer, schema string) ([]foreignKey, error) {
	rows, err := q.QueryContext(ctx, `
SELECT table_name, constraint_column_names, referenced_table, referenced_column_names
FROM duckdb_constraints()
WHERE constraint_type = 'FOREIGN KEY' AND schema_name = $1
ORDER BY table_name, constraint_index`, schema)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	defer rows.Close()

	var out []foreignKey
	for rows.Next() {
		var (
			table, refTable     string
			columns, refColumns any
		)
		if err := rows.Scan(&table, &columns, &refTable, &refColumns); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		from, to := stringList(columns), stringList(refColumns)
		for i := 0; i < len(from) && i < len(to); i++ {
			out = append(out, foreignKey{table: table, column: from[i], refTable: refTable, refColumn: to[i]})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return out, nil
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func placeholder(dialect database.Dialect) string {
	if dialect == database.MySQL {
		return "?"
	}
	return "$1"
}

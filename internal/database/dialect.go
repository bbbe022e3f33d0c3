package database

import (
	"fmt"
	"strings"
)

type Dialect string

const (
	DuckDB   Dialect = "duckdb"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

func ParseDialect(raw string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(raw))); d {
	case DuckDB, Postgres, MySQL:
		return d, nil
	case "postgresql", "pgx":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", raw)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	default:
		return string(d)
	}
}

func (d Dialect) DisplayName() string {
	switch d {
	case DuckDB:
		return "DuckDB"
	case Postgres:
		return "PostgreSQL"
	case MySQL:
		return "MySQL"
	default:
		return string(d)
	}
}

// ReadOnlyTransactions reports whether the driver honours
// sql.TxOptions{ReadOnly: true}.
func (d Dialect) ReadOnlyTransactions() bool {
	return d == Postgres || d == MySQL
}

// RowLimitHint is the row-limiting syntax generated statements should use.
func (d Dialect) RowLimitHint() string {
	return "LIMIT n"
}

func (d Dialect) explainPrefix() string {
	return "EXPLAIN "
}

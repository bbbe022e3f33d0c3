// Package database opens the engine questions are answered against and
// exposes its plan-explanation facility.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	duckdb "github.com/marcboeker/go-duckdb/v2"
)

type Config struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type DB struct {
	db      *sql.DB
	dialect Dialect
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn := cfg.DSN
	switch cfg.Dialect {
	case DuckDB:
	case Postgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
	case MySQL:
		normalized, err := mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
		dsn = normalized
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(cfg.Dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", cfg.Dialect, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", cfg.Dialect, err)
	}
	return &DB{db: db, dialect: cfg.Dialect}, nil
}

// New wraps an already opened handle.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

func (d *DB) SQL() *sql.DB {
	return d.db
}

func (d *DB) Dialect() Dialect {
	return d.dialect
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s db: %w", d.dialect, err)
	}
	return nil
}

// BeginRead starts a transaction that is read-only where the dialect
// supports it. Callers always roll it back.
func (d *DB) BeginRead(ctx context.Context) (*sql.Tx, error) {
	opts := &sql.TxOptions{ReadOnly: d.dialect.ReadOnlyTransactions()}
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("begin read transaction: %w", err)
	}
	return tx, nil
}

// Explain asks the engine for the plan of statement without running it and
// returns the plan text. Engine errors are returned as *PlanError.
func (d *DB) Explain(ctx context.Context, statement string) (string, error) {
	tx, err := d.BeginRead(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, d.dialect.explainPrefix()+statement)
	if err != nil {
		return "", planError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", planError(err)
	}
	var lines []string
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return "", planError(err)
		}
		parts := make([]string, 0, len(values))
		for _, value := range values {
			switch v := value.(type) {
			case nil:
			case []byte:
				parts = append(parts, string(v))
			default:
				parts = append(parts, fmt.Sprint(v))
			}
		}
		lines = append(lines, strings.Join(parts, "\t"))
	}
	if err := rows.Err(); err != nil {
		return "", planError(err)
	}
	return strings.Join(lines, "\n"), nil
}

// CheckExplain checks that the engine can explain a trivial statement.
func (d *DB) CheckExplain(ctx context.Context) error {
	if _, err := d.Explain(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("%s plan explanation unavailable: %w", d.dialect.DisplayName(), err)
	}
	return nil
}

// PlanError is an engine refusal to plan a statement.
type PlanError struct {
	Diagnostic string
	Err        error
}

func (e *PlanError) Error() string {
	return e.Diagnostic
}

func (e *PlanError) Unwrap() error {
	return e.Err
}

func planError(err error) error {
	if IsTimeout(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return &PlanError{Diagnostic: Diagnostic(err), Err: err}
}

// Diagnostic extracts the engine's own message from a driver error.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		if pgErr.Hint != "" {
			msg += " (hint: " + pgErr.Hint + ")"
		}
		return msg
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Message
	}
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		return duckErr.Msg
	}
	return err.Error()
}

func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err)
}

// mysqlDSN pins driver options the read-only guard relies on: one statement
// per round trip and parsed DATETIME columns.
func mysqlDSN(raw string) (string, error) {
	parsed, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	parsed.ParseTime = true
	parsed.MultiStatements = false
	return parsed.FormatDSN(), nil
}

// Package sqlexec runs validated statements against the configured
// database and returns typed result sets.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/askql/askql/internal/database"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/guard"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/query"
)

const DefaultMaxRows = 1000

var ErrUnverified = errors.New("statement has not passed validation")

type Options struct {
	MaxRows          int
	StatementTimeout time.Duration
	Logger           *slog.Logger
}

type Executor struct {
	db      *database.DB
	maxRows int
	timeout time.Duration
	logger  *slog.Logger
}

func New(db *database.DB, opts Options) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Executor{db: db, maxRows: maxRows, timeout: opts.StatementTimeout, logger: logger}, nil
}

func (e *Executor) MaxRows() int {
	return e.maxRows
}

// Execute runs the statement text exactly as validated and reads at most
// MaxRows rows. Truncated is set when the engine had more.
func (e *Executor) Execute(ctx context.Context, q guard.ValidQuery) (query.ResultSet, error) {
	if !q.Verified() {
		return query.ResultSet{}, failure.Wrap(failure.ConfigurationError, ErrUnverified, "refusing to execute").WithStage("execute")
	}
	if err := ctx.Err(); err != nil {
		return query.ResultSet{}, err
	}

	start := time.Now()
	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := e.run(execCtx, q.SQL())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return query.ResultSet{}, ctxErr
		}
		if database.IsTimeout(err) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return query.ResultSet{}, failure.Wrap(failure.ExecutionFailed, err, "statement exceeded %s", e.timeout).
				WithStage("execute").WithSQL(q.SQL()).WithTimeout(true)
		}
		return query.ResultSet{}, failure.Wrap(failure.ExecutionFailed, err, "%s", database.Diagnostic(err)).
			WithStage("execute").WithSQL(q.SQL())
	}
	result.Duration = time.Since(start)

	observability.ObserveResultRows(result.RowCount)
	e.logger.Debug("statement executed",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int("rows", result.RowCount),
		slog.Bool("truncated", result.Truncated),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Executor) run(ctx context.Context, statement string) (query.ResultSet, error) {
	tx, err := e.db.BeginRead(ctx)
	if err != nil {
		return query.ResultSet{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, statement)
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.ResultSet{}, fmt.Errorf("query columns: %w", err)
	}
	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, columnType := range columnTypes {
			if i < len(dbTypes) {
				dbTypes[i] = columnType.DatabaseTypeName()
			}
		}
	}
	labels := query.Labels(columns)

	result := query.ResultSet{Columns: labels, Rows: make([]query.Row, 0)}
	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, query.Row{Columns: labels, Values: normalizeValues(values, dbTypes)})
	}
	if err := rows.Err(); err != nil {
		return query.ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func normalizeValues(values []any, dbTypes []string) []query.Value {
	normalized := make([]query.Value, len(values))
	for i, value := range values {
		normalized[i] = query.Coerce(value, dbTypes[i])
	}
	return normalized
}

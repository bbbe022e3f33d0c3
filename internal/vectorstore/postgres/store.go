// Package postgres persists schema embeddings in the schema_embedding table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askql/askql/internal/vectorstore"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("embedding store dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open embedding store db: %w", err)
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
		return nil, fmt.Errorf("ping embedding store db: %w", err)
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping embedding store: %w", err)
	}
	return nil
}

// Upsert writes one entry. The row lock taken by ON CONFLICT keeps writers
// of the same entry serialized without touching other rows.
func (s *Store) Upsert(ctx context.Context, record vectorstore.Record) error {
	if record.EntryID == "" {
		return fmt.Errorf("entry id is required")
	}
	if len(record.Vector) == 0 {
		return fmt.Errorf("vector for %q is empty", record.EntryID)
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
INSERT INTO schema_embedding (entry_id, model_version, content_hash, dimensions, vector, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (entry_id)
DO UPDATE SET model_version = EXCLUDED.model_version,
	content_hash = EXCLUDED.content_hash,
	dimensions = EXCLUDED.dimensions,
	vector = EXCLUDED.vector,
	updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query,
		record.EntryID,
		record.ModelVersion,
		record.ContentHash,
		len(record.Vector),
		EncodeVector(record.Vector),
		updatedAt,
	); err != nil {
		return fmt.Errorf("upsert embedding %q: %w", record.EntryID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, entryID string) (vectorstore.Record, error) {
	query := `
SELECT entry_id, model_version, content_hash, dimensions, vector, updated_at
FROM schema_embedding
WHERE entry_id = $1`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vectorstore.Record{}, vectorstore.ErrNotFound
		}
		return vectorstore.Record{}, fmt.Errorf("get embedding %q: %w", entryID, err)
	}
	return record, nil
}

func (s *Store) List(ctx context.Context) ([]vectorstore.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT entry_id, model_version, content_hash, dimensions, vector, updated_at
FROM schema_embedding
ORDER BY entry_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]vectorstore.Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding rows: %w", err)
	}
	return records, nil
}

func (s *Store) Delete(ctx context.Context, entryID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schema_embedding WHERE entry_id = $1`, entryID); err != nil {
		return fmt.Errorf("delete embedding %q: %w", entryID, err)
	}
	return nil
}

func (s *Store) RecordRun(ctx context.Context, run vectorstore.Run) error {
	query := `
INSERT INTO index_run (run_id, model_version, embedded, skipped, pruned, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, query,
		run.RunID,
		run.ModelVersion,
		run.Embedded,
		run.Skipped,
		run.Pruned,
		run.StartedAt,
		run.FinishedAt,
	); err != nil {
		return fmt.Errorf("record index run: %w", err)
	}
	return nil
}

func (s *Store) LastRun(ctx context.Context) (vectorstore.Run, error) {
	query := `
SELECT run_id, model_version, embedded, skipped, pruned, started_at, finished_at
FROM index_run
ORDER BY finished_at DESC
LIMIT 1`
	var run vectorstore.Run
	if err := s.db.QueryRowContext(ctx, query).Scan(
		&run.RunID,
		&run.ModelVersion,
		&run.Embedded,
		&run.Skipped,
		&run.Pruned,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vectorstore.Run{}, vectorstore.ErrNotFound
		}
		return vectorstore.Run{}, fmt.Errorf("last index run: %w", err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (vectorstore.Record, error) {
	var (
		record     vectorstore.Record
		dimensions int
		raw        []byte
	)
	if err := row.Scan(
		&record.EntryID,
		&record.ModelVersion,
		&record.ContentHash,
		&dimensions,
		&raw,
		&record.UpdatedAt,
	); err != nil {
		return vectorstore.Record{}, err
	}
	vector, err := DecodeVector(raw)
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("decode vector for %q: %w", record.EntryID, err)
	}
	if len(vector) != dimensions {
		return vectorstore.Record{}, fmt.Errorf("vector for %q has %d dimensions, row says %d", record.EntryID, len(vector), dimensions)
	}
	record.Vector = vector
	return record, nil
}

// EncodeVector packs v as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, value := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(value))
	}
	return out
}

func DecodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("vector length %d is not a multiple of 4", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

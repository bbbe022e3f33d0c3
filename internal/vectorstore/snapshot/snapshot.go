// Package snapshot encodes the embedding store as parquet and moves it to
// and from an object store, so a fresh process can skip re-embedding.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askql/askql/internal/storage"
	"github.com/askql/askql/internal/vectorstore"
)

const (
	contentType = "application/vnd.apache.parquet"

	metaCatalog = "askql-catalog"
	metaModel   = "askql-model"
	metaRecords = "askql-records"
)

var ErrNoSnapshot = errors.New("snapshot: none found")

type parquetRecord struct {
	EntryID         string    `parquet:"entry_id"`
	ModelVersion    string    `parquet:"model_version"`
	ContentHash     string    `parquet:"content_hash"`
	Vector          []float32 `parquet:"vector"`
	UpdatedAtUnixMs int64     `parquet:"updated_at_unix_ms"`
}

func Encode(records []vectorstore.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}
	rows := make([]parquetRecord, 0, len(records))
	for _, record := range records {
		rows = append(rows, parquetRecord{
			EntryID:         record.EntryID,
			ModelVersion:    record.ModelVersion,
			ContentHash:     record.ContentHash,
			Vector:          record.Vector,
			UpdatedAtUnixMs: record.UpdatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) ([]vectorstore.Record, error) {
	reader := parquet.NewGenericReader[parquetRecord](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	total := reader.NumRows()
	rows := make([]parquetRecord, total)
	read := 0
	for read < len(rows) {
		n, err := reader.Read(rows[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	if int64(read) != total {
		return nil, fmt.Errorf("read %d of %d parquet rows", read, total)
	}

	records := make([]vectorstore.Record, 0, read)
	for _, row := range rows[:read] {
		records = append(records, vectorstore.Record{
			EntryID:      row.EntryID,
			ModelVersion: row.ModelVersion,
			ContentHash:  row.ContentHash,
			Vector:       append([]float32(nil), row.Vector...),
			UpdatedAt:    time.UnixMilli(row.UpdatedAtUnixMs).UTC(),
		})
	}
	return records, nil
}

type Manager struct {
	objects storage.ObjectStore
	catalog string
	now     func() time.Time

	mu     sync.Mutex
	pinned map[string]struct{}
}

func NewManager(objects storage.ObjectStore, catalogName string) *Manager {
	return &Manager{objects: objects, catalog: catalogName, now: time.Now, pinned: map[string]struct{}{}}
}

// Pin keeps key out of Prune.
func (m *Manager) Pin(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[key] = struct{}{}
}

func (m *Manager) isPinned(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pinned[key]
	return ok
}

// Prune deletes all but the newest keep snapshots for modelVersion and
// returns the deleted keys. Pinned snapshots are never deleted and do not
// count towards keep.
func (m *Manager) Prune(ctx context.Context, modelVersion string, keep int) ([]string, error) {
	if keep < 1 {
		return nil, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	prefix, err := storage.SnapshotPrefix(m.catalog, modelVersion)
	if err != nil {
		return nil, err
	}
	objects, err := m.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var candidates []string
	for _, object := range objects {
		if !m.isPinned(object.Key) {
			candidates = append(candidates, object.Key)
		}
	}
	if len(candidates) <= keep {
		return nil, nil
	}
	stale := candidates[:len(candidates)-keep]
	deleted := make([]string, 0, len(stale))
	for _, key := range stale {
		if err := m.objects.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete snapshot %q: %w", key, err)
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// Save writes every record of the current model to a new snapshot object
// and returns its key.
func (m *Manager) Save(ctx context.Context, store vectorstore.Store, modelVersion string) (string, int, error) {
	records, err := store.List(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("list records: %w", err)
	}
	current := records[:0:0]
	for _, record := range records {
		if record.ModelVersion == modelVersion {
			current = append(current, record)
		}
	}
	if len(current) == 0 {
		return "", 0, fmt.Errorf("no records for model %q", modelVersion)
	}

	data, err := Encode(current)
	if err != nil {
		return "", 0, err
	}
	key, err := storage.BuildSnapshotPath(m.catalog, modelVersion, m.now())
	if err != nil {
		return "", 0, err
	}
	opts := storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			metaCatalog: m.catalog,
			metaModel:   modelVersion,
			metaRecords: strconv.Itoa(len(current)),
		},
	}
	if _, err := m.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", 0, fmt.Errorf("put snapshot: %w", err)
	}
	return key, len(current), nil
}

// Restore loads the newest snapshot for modelVersion into store. It returns
// ErrNoSnapshot when none exists.
func (m *Manager) Restore(ctx context.Context, store vectorstore.Store, modelVersion string) (string, int, error) {
	key, err := m.Latest(ctx, modelVersion)
	if err != nil {
		return "", 0, err
	}
	count, err := m.RestoreKey(ctx, store, key)
	if err != nil {
		return "", 0, err
	}
	return key, count, nil
}

// Info describes a stored snapshot from its object metadata. Model and
// Records are empty for objects written without metadata.
type Info struct {
	Key       string
	Catalog   string
	Model     string
	Records   int
	Size      int64
	CreatedAt time.Time
}

func (m *Manager) Inspect(ctx context.Context, key string) (Info, error) {
	object, err := m.objects.Stat(ctx, key)
	if err != nil {
		return Info{}, fmt.Errorf("stat snapshot %q: %w", key, err)
	}
	info := Info{
		Key:       key,
		Catalog:   object.Meta(metaCatalog),
		Model:     object.Meta(metaModel),
		Size:      object.Size,
		CreatedAt: object.LastModified,
	}
	if raw := object.Meta(metaRecords); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			info.Records = n
		}
	}
	return info, nil
}

// RestoreKey loads one named snapshot into store.
func (m *Manager) RestoreKey(ctx context.Context, store vectorstore.Store, key string) (int, error) {
	reader, err := m.objects.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get snapshot %q: %w", key, err)
	}
	data, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		return 0, fmt.Errorf("read snapshot %q: %w", key, err)
	}
	records, err := Decode(data)
	if err != nil {
		return 0, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	for _, record := range records {
		if err := store.Upsert(ctx, record); err != nil {
			return 0, fmt.Errorf("restore %q: %w", record.EntryID, err)
		}
	}
	return len(records), nil
}

func (m *Manager) Latest(ctx context.Context, modelVersion string) (string, error) {
	prefix, err := storage.SnapshotPrefix(m.catalog, modelVersion)
	if err != nil {
		return "", err
	}
	objects, err := m.objects.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list snapshots: %w", err)
	}
	if len(objects) == 0 {
		return "", ErrNoSnapshot
	}
	return objects[len(objects)-1].Key, nil
}

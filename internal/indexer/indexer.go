// Package indexer keeps the embedding store in step with the catalog.
//
// Each table is embedded independently and written with its own upsert, so
// a reindex never takes the store offline and unchanged tables are skipped
// by content hash.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/embedding"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/vectorstore"
)

type Options struct {
	Concurrency int
	Logger      *slog.Logger
}

type Summary struct {
	RunID        string    `json:"run_id"`
	ModelVersion string    `json:"model_version"`
	Embedded     int       `json:"embedded"`
	Skipped      int       `json:"skipped"`
	Pruned       int       `json:"pruned"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type Indexer struct {
	embedder    embedding.Embedder
	store       vectorstore.Store
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func New(embedder embedding.Embedder, store vectorstore.Store, opts Options) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Indexer{
		embedder:    embedder,
		store:       store,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// ContentHash identifies the embedding input: the table's text and the
// model that embeds it.
func ContentHash(text, modelVersion string) string {
	sum := sha256.Sum256([]byte(modelVersion + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Reindex embeds every table whose text or model changed since the last
// run (all tables when force is set) and removes records for tables that
// left the catalog.
func (ix *Indexer) Reindex(ctx context.Context, c catalog.Catalog, force bool) (Summary, error) {
	model := ix.embedder.Model()
	summary := Summary{
		RunID:        uuid.NewString(),
		ModelVersion: model,
		StartedAt:    ix.now().UTC(),
	}

	existing, err := ix.store.List(ctx)
	if err != nil {
		return summary, failure.Wrap(failure.RetrievalFailed, err, "list stored embeddings").WithStage("index")
	}
	byID := make(map[string]vectorstore.Record, len(existing))
	for _, record := range existing {
		byID[record.EntryID] = record
	}

	var (
		mu       sync.Mutex
		embedded int
		skipped  int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(ix.concurrency)
	for _, table := range c.Tables() {
		text := table.EmbeddingText()
		hash := ContentHash(text, model)
		if previous, ok := byID[table.ID()]; ok && !force && previous.ContentHash == hash && previous.ModelVersion == model {
			skipped++
			continue
		}
		group.Go(func() error {
			vector, err := ix.embedder.Embed(groupCtx, text)
			if err != nil {
				return fmt.Errorf("embed %s: %w", table.ID(), err)
			}
			record := vectorstore.Record{
				EntryID:      table.ID(),
				ModelVersion: model,
				ContentHash:  hash,
				Vector:       vector,
				UpdatedAt:    ix.now().UTC(),
			}
			if err := ix.store.Upsert(groupCtx, record); err != nil {
				return fmt.Errorf("store %s: %w", table.ID(), err)
			}
			mu.Lock()
			embedded++
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		summary.Embedded = embedded
		summary.Skipped = skipped
		return summary, failure.Wrap(failure.RetrievalFailed, err, "index catalog %s", c.Name()).
			WithStage("index").
			WithTimeout(errors.Is(err, context.DeadlineExceeded))
	}

	pruned := 0
	for id := range byID {
		if _, ok := c.Position(id); ok {
			continue
		}
		if err := ix.store.Delete(ctx, id); err != nil && !errors.Is(err, vectorstore.ErrNotFound) {
			return summary, failure.Wrap(failure.RetrievalFailed, err, "prune %s", id).WithStage("index")
		}
		pruned++
	}

	summary.Embedded = embedded
	summary.Skipped = skipped
	summary.Pruned = pruned
	summary.FinishedAt = ix.now().UTC()
	observability.ObserveIndexEntries(embedded, skipped, pruned)

	if recorder, ok := ix.store.(vectorstore.RunRecorder); ok {
		if err := recorder.RecordRun(ctx, vectorstore.Run{
			RunID:        summary.RunID,
			ModelVersion: summary.ModelVersion,
			Embedded:     summary.Embedded,
			Skipped:      summary.Skipped,
			Pruned:       summary.Pruned,
			StartedAt:    summary.StartedAt,
			FinishedAt:   summary.FinishedAt,
		}); err != nil {
			ix.logger.Warn("record index run failed", slog.String("run_id", summary.RunID), slog.Any("error", err))
		}
	}

	ix.logger.Info("catalog indexed",
		slog.String("catalog", c.Name()),
		slog.String("model", model),
		slog.Int("embedded", embedded),
		slog.Int("skipped", skipped),
		slog.Int("pruned", pruned),
	)
	return summary, nil
}

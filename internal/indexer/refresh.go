package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/vectorstore"
)

// SnapshotSaver persists the embedding store after a reindex.
type SnapshotSaver interface {
	Save(ctx context.Context, store vectorstore.Store, modelVersion string) (string, int, error)
}

// SnapshotPruner is implemented by savers that can drop older snapshots.
type SnapshotPruner interface {
	Prune(ctx context.Context, modelVersion string, keep int) ([]string, error)
}

type RefreshResult struct {
	Summary
	SnapshotKey string `json:"snapshot_key,omitempty"`
}

// Refresher reindexes one catalog on demand. Runs are serialized.
type Refresher struct {
	mu        sync.Mutex
	indexer   *Indexer
	catalog   catalog.Catalog
	snapshots SnapshotSaver
	retain    int
}

// NewRefresher binds ix to c. snapshots may be nil.
func NewRefresher(ix *Indexer, c catalog.Catalog, snapshots SnapshotSaver) (*Refresher, error) {
	if ix == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	return &Refresher{indexer: ix, catalog: c, snapshots: snapshots}, nil
}

// RetainSnapshots makes every successful save prune all but the newest keep
// snapshots of the model. Zero keeps everything.
func (r *Refresher) RetainSnapshots(keep int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retain = keep
}

func (r *Refresher) Refresh(ctx context.Context, force bool) (RefreshResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary, err := r.indexer.Reindex(ctx, r.catalog, force)
	result := RefreshResult{Summary: summary}
	if err != nil {
		return result, err
	}
	if r.snapshots == nil {
		return result, nil
	}
	key, count, err := r.snapshots.Save(ctx, r.indexer.store, summary.ModelVersion)
	if err != nil {
		// The store itself is up to date; only the copy failed.
		r.indexer.logger.Warn("save embedding snapshot failed", slog.String("run_id", summary.RunID), slog.Any("error", err))
		return result, nil
	}
	r.indexer.logger.Info("embedding snapshot saved", slog.String("key", key), slog.Int("records", count))
	result.SnapshotKey = key
	r.prune(ctx, summary.ModelVersion)
	return result, nil
}

func (r *Refresher) prune(ctx context.Context, modelVersion string) {
	pruner, ok := r.snapshots.(SnapshotPruner)
	if !ok || r.retain <= 0 {
		return
	}
	deleted, err := pruner.Prune(ctx, modelVersion, r.retain)
	if err != nil {
		r.indexer.logger.Warn("prune embedding snapshots failed", slog.Int("deleted", len(deleted)), slog.Any("error", err))
		return
	}
	if len(deleted) > 0 {
		r.indexer.logger.Info("embedding snapshots pruned", slog.Int("deleted", len(deleted)), slog.Int("kept", r.retain))
	}
}

// Package vectorstore keeps one embedding per catalog entry, keyed by the
// entry's identity.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("vectorstore: not found")

type Record struct {
	EntryID      string
	ModelVersion string
	ContentHash  string
	Vector       []float32
	UpdatedAt    time.Time
}

// Run is one completed indexing pass.
type Run struct {
	RunID        string
	ModelVersion string
	Embedded     int
	Skipped      int
	Pruned       int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RunRecorder is implemented by stores that keep an indexing history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

type Store interface {
	Upsert(ctx context.Context, record Record) error
	Get(ctx context.Context, entryID string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, entryID string) error
}

func (r Record) clone() Record {
	out := r
	out.Vector = append([]float32(nil), r.Vector...)
	return out
}

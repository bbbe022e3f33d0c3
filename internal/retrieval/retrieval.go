// Package retrieval selects the catalog tables most relevant to a question
// by cosine similarity between the question and stored table embeddings.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/embedding"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/vectorstore"
)

const stage = "retrieve"

type Match struct {
	Table catalog.Table `json:"-"`
	Score float64       `json:"score"`
}

type Result struct {
	Matches []Match
	// Full is set when every table was selected without ranking.
	Full bool
}

func (r Result) Tables() []catalog.Table {
	out := make([]catalog.Table, len(r.Matches))
	for i, match := range r.Matches {
		out[i] = match.Table
	}
	return out
}

func (r Result) IDs() []string {
	out := make([]string, len(r.Matches))
	for i, match := range r.Matches {
		out[i] = match.Table.ID()
	}
	return out
}

func (r Result) Empty() bool {
	return len(r.Matches) == 0
}

type Retriever struct {
	catalog  catalog.Catalog
	embedder embedding.Embedder
	store    vectorstore.Store
	logger   *slog.Logger
}

func New(c catalog.Catalog, embedder embedding.Embedder, store vectorstore.Store, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Retriever{catalog: c, embedder: embedder, store: store, logger: logger}, nil
}

func (r *Retriever) Catalog() catalog.Catalog {
	return r.catalog
}

// Retrieve returns at most k tables ordered by descending similarity, ties
// broken by catalog order. Records embedded with another model, or for
// tables that are no longer in the catalog, are ignored. An empty store
// yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (Result, error) {
	if k < 1 {
		return Result{}, failure.Configuration("top k must be at least 1, got %d", k).WithStage(stage)
	}
	if strings.TrimSpace(question) == "" {
		return Result{}, failure.New(failure.RetrievalFailed, "question is empty").WithStage(stage)
	}

	query, err := r.embedder.Embed(ctx, question)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, failure.Wrap(failure.RetrievalFailed, err, "embed question").
			WithStage(stage).
			WithTimeout(errors.Is(err, context.DeadlineExceeded))
	}
	records, err := r.store.List(ctx)
	if err != nil {
		return Result{}, failure.Wrap(failure.RetrievalFailed, err, "list embeddings").WithStage(stage)
	}

	model := r.embedder.Model()
	type scored struct {
		match    Match
		position int
	}
	candidates := make([]scored, 0, len(records))
	stale := 0
	for _, record := range records {
		position, ok := r.catalog.Position(record.EntryID)
		if !ok || record.ModelVersion != model || len(record.Vector) != len(query) {
			stale++
			continue
		}
		table, err := r.catalog.Table(record.EntryID)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{
			match:    Match{Table: table, Score: Cosine(query, record.Vector)},
			position: position,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].match.Score != candidates[j].match.Score {
			return candidates[i].match.Score > candidates[j].match.Score
		}
		return candidates[i].position < candidates[j].position
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	result := Result{Matches: make([]Match, len(candidates))}
	for i, candidate := range candidates {
		result.Matches[i] = candidate.match
	}
	observability.ObserveRetrievalMatches(len(result.Matches))
	r.logger.Debug("tables retrieved",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.Int("k", k),
		slog.Any("tables", result.IDs()),
		slog.Int("ignored_records", stale),
	)
	return result, nil
}

// Full selects every table in catalog order with score 1.
func Full(c catalog.Catalog) Result {
	tables := c.Tables()
	result := Result{Matches: make([]Match, len(tables)), Full: true}
	for i, table := range tables {
		result.Matches[i] = Match{Table: table, Score: 1}
	}
	return result
}

// Cosine is the cosine similarity of a and b. A zero vector scores 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

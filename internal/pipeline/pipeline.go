// Package pipeline answers a question by running retrieval, prompt
// building, generation, validation and execution in order.
//
// The Controller holds no per-question state. Every call returns an
// Outcome with whatever the stages produced before it finished or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askql/askql/internal/catalog"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/guard"
	"github.com/askql/askql/internal/nl2sql"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/prompt"
	"github.com/askql/askql/internal/query"
	"github.com/askql/askql/internal/retrieval"
)

const (
	StageRetrieve = "retrieve"
	StageBuild    = "build"
	StageGenerate = "generate"
	StageValidate = "validate"
	StageExecute  = "execute"
)

var ErrInvalidQuestion = errors.New("invalid question")

type Mode string

const (
	ModeRetrieval Mode = "retrieval"
	ModeFull      Mode = "full"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case ModeRetrieval:
		return ModeRetrieval, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("%w: unsupported mode %q", ErrInvalidQuestion, raw)
	}
}

type Question struct {
	Text string `json:"question"`
	Mode Mode   `json:"mode,omitempty"`
	TopK int    `json:"top_k,omitempty"`
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (retrieval.Result, error)
	Catalog() catalog.Catalog
}

type PromptBuilder interface {
	Build(question string, tables []catalog.Table) (prompt.Request, error)
}

type Generator interface {
	Generate(ctx context.Context, req prompt.Request) (nl2sql.Candidate, error)
}

type Validator interface {
	Validate(ctx context.Context, sql string) (guard.Verdict, error)
}

type Executor interface {
	Execute(ctx context.Context, q guard.ValidQuery) (query.ResultSet, error)
}

type Components struct {
	Retriever Retriever
	Builder   PromptBuilder
	Generator Generator
	Validator Validator
	Executor  Executor
}

type Options struct {
	DefaultMode    Mode
	TopK           int
	FallbackToFull bool
	Logger         *slog.Logger
}

type Controller struct {
	components     Components
	defaultMode    Mode
	topK           int
	fallbackToFull bool
	logger         *slog.Logger
}

func New(components Components, opts Options) (*Controller, error) {
	switch {
	case components.Retriever == nil:
		return nil, fmt.Errorf("retriever is required")
	case components.Builder == nil:
		return nil, fmt.Errorf("prompt builder is required")
	case components.Generator == nil:
		return nil, fmt.Errorf("generator is required")
	case components.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case components.Executor == nil:
		return nil, fmt.Errorf("executor is required")
	}
	mode := opts.DefaultMode
	if mode == "" {
		mode = ModeRetrieval
	}
	if mode != ModeRetrieval && mode != ModeFull {
		return nil, fmt.Errorf("unsupported default mode %q", mode)
	}
	topK := opts.TopK
	if topK < 1 {
		topK = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Controller{
		components:     components,
		defaultMode:    mode,
		topK:           topK,
		fallbackToFull: opts.FallbackToFull,
		logger:         logger,
	}, nil
}

func (c *Controller) Catalog() catalog.Catalog {
	return c.components.Retriever.Catalog()
}

// Ask runs every stage and executes the statement when it is valid.
func (c *Controller) Ask(ctx context.Context, q Question) (Outcome, error) {
	return c.run(ctx, "ask", q, true)
}

// Translate stops after validation.
func (c *Controller) Translate(ctx context.Context, q Question) (Outcome, error) {
	return c.run(ctx, "translate", q, false)
}

// Retrieve ranks catalog tables for a question without generating.
func (c *Controller) Retrieve(ctx context.Context, text string, k int) (retrieval.Result, error) {
	if strings.TrimSpace(text) == "" {
		return retrieval.Result{}, fmt.Errorf("%w: question is empty", ErrInvalidQuestion)
	}
	if k <= 0 {
		k = c.topK
	}
	return c.components.Retriever.Retrieve(ctx, text, k)
}

func (c *Controller) run(ctx context.Context, operation string, q Question, execute bool) (outcome Outcome, err error) {
	outcome = Outcome{ID: uuid.NewString(), Question: strings.TrimSpace(q.Text), Mode: q.Mode}
	started := time.Now()
	logger := c.logger.With(
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("outcome_id", outcome.ID),
		slog.String("operation", operation),
	)
	defer func() {
		label := outcomeLabel(err)
		observability.ObserveQuestion(operation, label)
		attrs := []any{
			slog.String("outcome", label),
			slog.String("mode", string(outcome.Mode)),
			slog.Duration("duration", time.Since(started)),
		}
		if outcome.Result != nil {
			attrs = append(attrs, slog.Int("rows", outcome.Result.RowCount))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.Info("question finished", attrs...)
	}()

	if outcome.Question == "" {
		return outcome, fmt.Errorf("%w: question is empty", ErrInvalidQuestion)
	}
	if q.TopK < 0 {
		return outcome, fmt.Errorf("%w: top_k must not be negative", ErrInvalidQuestion)
	}
	if outcome.Mode == "" {
		outcome.Mode = c.defaultMode
	}
	if outcome.Mode != ModeRetrieval && outcome.Mode != ModeFull {
		return outcome, fmt.Errorf("%w: unsupported mode %q", ErrInvalidQuestion, outcome.Mode)
	}
	k := q.TopK
	if k == 0 {
		k = c.topK
	}

	var selected retrieval.Result
	if err := c.stage(ctx, &outcome, StageRetrieve, func() error {
		var err error
		selected, err = c.selectTables(ctx, logger, outcome.Mode, outcome.Question, k)
		return err
	}); err != nil {
		return outcome, err
	}
	outcome.setMatches(selected)

	var req prompt.Request
	if err := c.stage(ctx, &outcome, StageBuild, func() error {
		var err error
		req, err = c.components.Builder.Build(outcome.Question, selected.Tables())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
		}
		return nil
	}); err != nil {
		return outcome, err
	}
	outcome.Request = &req
	logger.Debug("prompt built",
		slog.String("fingerprint", req.Fingerprint),
		slog.Any("tables", req.Tables),
	)

	var candidate nl2sql.Candidate
	if err := c.stage(ctx, &outcome, StageGenerate, func() error {
		var err error
		candidate, err = c.components.Generator.Generate(ctx, req)
		return err
	}); err != nil {
		return outcome, err
	}
	outcome.Candidate = &candidate

	var verdict guard.Verdict
	if err := c.stage(ctx, &outcome, StageValidate, func() error {
		var err error
		verdict, err = c.components.Validator.Validate(ctx, candidate.SQL)
		if err != nil {
			return err
		}
		return verdict.Err()
	}); err != nil {
		if verdict.Status != "" {
			outcome.Verdict = &verdict
		}
		return outcome, err
	}
	outcome.Verdict = &verdict

	if !execute {
		return outcome, nil
	}
	valid, ok := verdict.Query()
	if !ok {
		return outcome, verdict.Err()
	}

	var result query.ResultSet
	if err := c.stage(ctx, &outcome, StageExecute, func() error {
		var err error
		result, err = c.components.Executor.Execute(ctx, valid)
		return err
	}); err != nil {
		return outcome, err
	}
	outcome.Result = &result
	return outcome, nil
}

// selectTables applies the retrieval mode and the empty-result fallback.
func (c *Controller) selectTables(ctx context.Context, logger *slog.Logger, mode Mode, text string, k int) (retrieval.Result, error) {
	if mode == ModeFull {
		return retrieval.Full(c.components.Retriever.Catalog()), nil
	}
	result, err := c.components.Retriever.Retrieve(ctx, text, k)
	if err != nil {
		return retrieval.Result{}, err
	}
	if !result.Empty() {
		return result, nil
	}
	if !c.fallbackToFull {
		return retrieval.Result{}, failure.New(failure.RetrievalFailed, "no relevant tables found for the question").
			WithStage(StageRetrieve)
	}
	logger.Info("retrieval found no tables; using the full catalog")
	return retrieval.Full(c.components.Retriever.Catalog()), nil
}

// stage checks for cancellation, then times, records and counts fn.
func (c *Controller) stage(ctx context.Context, outcome *Outcome, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	outcome.Stages = append(outcome.Stages, newStageTiming(name, err, elapsed))
	observability.ObserveStage(name, err, elapsed)
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, ErrInvalidQuestion):
		return "invalid_question"
	}
	if kind, ok := failure.KindOf(err); ok {
		return strings.ToLower(string(kind))
	}
	return "error"
}

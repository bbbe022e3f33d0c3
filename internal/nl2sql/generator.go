package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/observability"
	"github.com/askql/askql/internal/prompt"
)

const stage = "generate"

// Candidate is a statement proposed by the model. It is untrusted until
// the validator accepts it.
type Candidate struct {
	ID                string    `json:"id"`
	SQL               string    `json:"sql"`
	Raw               string    `json:"raw"`
	Backend           string    `json:"backend"`
	Model             string    `json:"model"`
	PromptFingerprint string    `json:"prompt_fingerprint"`
	GeneratedAt       time.Time `json:"generated_at"`
}

type GeneratorOptions struct {
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Generator struct {
	backend Backend
	model   string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewGenerator(backend Backend, opts GeneratorOptions) (*Generator, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Generator{
		backend: backend,
		model:   opts.Model,
		timeout: opts.Timeout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (g *Generator) Backend() prompt.Backend {
	return prompt.Backend{Name: g.backend.Name(), Model: g.model, Endpoint: g.backend.Endpoint()}
}

// Generate asks the backend to complete req and extracts one statement
// from the answer. Backend failures are GenerationFailed; output without a
// statement is NoCandidateProduced.
func (g *Generator) Generate(ctx context.Context, req prompt.Request) (Candidate, error) {
	model := req.Backend.Model
	if model == "" {
		model = g.model
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.backend.Complete(callCtx, Completion{
		Model:       model,
		System:      req.System,
		Prompt:      req.User,
		Temperature: req.Sampling.Temperature,
		MaxTokens:   req.Sampling.MaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return Candidate{}, ctx.Err()
		}
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return Candidate{}, failure.Wrap(failure.GenerationFailed, err, "%s backend call failed", g.backend.Name()).
			WithStage(stage).
			WithTimeout(timeout)
	}

	statement, ok := ExtractStatement(raw)
	if !ok {
		g.logger.Info("model output contained no statement",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("backend", g.backend.Name()),
			slog.String("raw", truncate(raw, 256)),
		)
		return Candidate{}, failure.New(failure.NoCandidateProduced, "model output contained no SQL statement").
			WithStage(stage)
	}

	return Candidate{
		ID:                uuid.NewString(),
		SQL:               statement,
		Raw:               raw,
		Backend:           g.backend.Name(),
		Model:             model,
		PromptFingerprint: req.Fingerprint,
		GeneratedAt:       g.now().UTC(),
	}, nil
}

// Package guard decides whether a candidate statement may run.
//
// A statement moves through Received, SyntaxChecked, ReadOnlyChecked and
// PlanVerified before it is Valid. Each check can reject it; a rejection
// names the rule that fired and the last state reached. Only a Valid
// verdict yields a ValidQuery, and the executor accepts nothing else.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askql/askql/internal/database"
	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/observability"
)

type State string

const (
	Received        State = "RECEIVED"
	SyntaxChecked   State = "SYNTAX_CHECKED"
	ReadOnlyChecked State = "READ_ONLY_CHECKED"
	PlanVerified    State = "PLAN_VERIFIED"
	Valid           State = "VALID"
)

type Status string

const (
	StatusValid           Status = "VALID"
	StatusRejectedUnsafe  Status = "REJECTED_UNSAFE"
	StatusRejectedInvalid Status = "REJECTED_INVALID"
)

const (
	RuleEmpty            = "empty-statement"
	RuleUnterminated     = "unterminated-token"
	RuleStacked          = "stacked-statements"
	RuleNotReadOnly      = "not-read-only"
	RuleEmbeddedMutation = "embedded-mutation"
	RulePlanFailed       = "plan-failed"
	RulePlanTimeout      = "plan-timeout"
)

// PlanVerifier asks the database to plan a statement without running it.
type PlanVerifier interface {
	Explain(ctx context.Context, statement string) (string, error)
}

type Verdict struct {
	Status  Status `json:"status"`
	Stage   State  `json:"stage"`
	Reason  string `json:"reason,omitempty"`
	Rule    string `json:"rule,omitempty"`
	SQL     string `json:"sql"`
	Plan    string `json:"plan,omitempty"`
	Timeout bool   `json:"timeout,omitempty"`
}

func (v Verdict) Valid() bool {
	return v.Status == StatusValid
}

// Query returns the executable form of a Valid verdict.
func (v Verdict) Query() (ValidQuery, bool) {
	if !v.Valid() {
		return ValidQuery{}, false
	}
	return ValidQuery{sql: v.SQL, plan: v.Plan, verified: true}, true
}

// Err is nil for a Valid verdict, otherwise the rejection as a
// *failure.Error.
func (v Verdict) Err() error {
	var kind failure.Kind
	switch v.Status {
	case StatusValid:
		return nil
	case StatusRejectedUnsafe:
		kind = failure.RejectedUnsafe
	default:
		kind = failure.RejectedInvalid
	}
	return failure.Rejection(kind, "validate", v.Reason, v.SQL).WithTimeout(v.Timeout)
}

// ValidQuery can only be obtained from a Valid verdict.
type ValidQuery struct {
	sql      string
	plan     string
	verified bool
}

func (q ValidQuery) SQL() string {
	return q.sql
}

func (q ValidQuery) Plan() string {
	return q.plan
}

// Verified is false for the zero value.
func (q ValidQuery) Verified() bool {
	return q.verified
}

type Options struct {
	PlanTimeout time.Duration
	// Dialect selects string escaping rules; MySQL honours backslash escapes.
	Dialect database.Dialect
	Logger  *slog.Logger
}

type Validator struct {
	verifier    PlanVerifier
	planTimeout time.Duration
	lex         lexOptions
	logger      *slog.Logger
}

func NewValidator(verifier PlanVerifier, opts Options) (*Validator, error) {
	if verifier == nil {
		return nil, fmt.Errorf("plan verifier is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Validator{
		verifier:    verifier,
		planTimeout: opts.PlanTimeout,
		lex:         lexOptionsFor(opts.Dialect),
		logger:      logger,
	}, nil
}

// Validate always produces a verdict. The error is non-nil only when the
// caller's context ended while the plan was being verified.
func (v *Validator) Validate(ctx context.Context, sql string) (Verdict, error) {
	verdict := v.validate(ctx, sql)
	if verdict.Status == "" {
		return Verdict{Stage: ReadOnlyChecked, SQL: sql}, ctx.Err()
	}
	if !verdict.Valid() {
		observability.ObserveRejection(string(verdict.Status), verdict.Rule)
		v.logger.Info("statement rejected",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("status", string(verdict.Status)),
			slog.String("rule", verdict.Rule),
			slog.String("stage", string(verdict.Stage)),
			slog.String("reason", verdict.Reason),
		)
	}
	return verdict, nil
}

func (v *Validator) validate(ctx context.Context, sql string) Verdict {
	if strings.TrimSpace(sql) == "" {
		return reject(StatusRejectedInvalid, Received, RuleEmpty, "statement is empty", sql)
	}

	statement, verdict, ok := checkSyntax(sql, v.lex)
	if !ok {
		return verdict
	}
	if verdict, ok := checkReadOnly(statement); !ok {
		return verdict
	}

	planCtx := ctx
	if v.planTimeout > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, v.planTimeout)
		defer cancel()
	}
	plan, err := v.verifier.Explain(planCtx, statement.text)
	if err != nil {
		if ctx.Err() != nil {
			return Verdict{}
		}
		if errors.Is(err, context.DeadlineExceeded) || database.IsTimeout(err) {
			rejected := reject(StatusRejectedInvalid, ReadOnlyChecked, RulePlanTimeout,
				fmt.Sprintf("plan verification exceeded %s", v.planTimeout), statement.text)
			rejected.Timeout = true
			return rejected
		}
		return reject(StatusRejectedInvalid, ReadOnlyChecked, RulePlanFailed,
			"database rejected the statement: "+database.Diagnostic(err), statement.text)
	}

	return Verdict{Status: StatusValid, Stage: Valid, SQL: statement.text, Plan: plan}
}

func reject(status Status, stage State, rule, reason, sql string) Verdict {
	return Verdict{Status: status, Stage: stage, Rule: rule, Reason: reason, SQL: sql}
}

// Package failure defines the error kinds a question can end with.
//
// Every stage of the pipeline returns either its own success value or an
// *Error carrying one of the kinds below. Rejections carry the offending
// statement text so callers can show why a question failed.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	RetrievalFailed     Kind = "RETRIEVAL_FAILED"
	GenerationFailed    Kind = "GENERATION_FAILED"
	NoCandidateProduced Kind = "NO_CANDIDATE_PRODUCED"
	RejectedUnsafe      Kind = "REJECTED_UNSAFE"
	RejectedInvalid     Kind = "REJECTED_INVALID"
	ExecutionFailed     Kind = "EXECUTION_FAILED"
	ConfigurationError  Kind = "CONFIGURATION_ERROR"
)

// ErrTimeout is matched by errors.Is for any failure caused by an expired
// deadline, independent of the stage it happened in.
var ErrTimeout = errors.New("deadline exceeded")

type Error struct {
	Kind    Kind
	Stage   string
	Reason  string
	SQL     string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Stage != "" {
		b.WriteString(" at ")
		b.WriteString(e.Stage)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil && (e.Reason == "" || !strings.Contains(e.Reason, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrTimeout && e.Timeout
}

func (e *Error) Retryable() bool {
	return e.Kind == ExecutionFailed
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

func Configuration(format string, args ...any) *Error {
	return &Error{Kind: ConfigurationError, Stage: "startup", Reason: fmt.Sprintf(format, args...)}
}

// Rejection builds a validator rejection carrying the statement text.
func Rejection(kind Kind, stage, reason, sql string) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason, SQL: sql}
}

func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

func (e *Error) WithSQL(sql string) *Error {
	e.SQL = sql
	return e
}

func (e *Error) WithTimeout(timeout bool) *Error {
	e.Timeout = timeout
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

func IsRetryable(err error) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Retryable()
	}
	return false
}

// IsRejection reports whether err is a validator rejection.
func IsRejection(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == RejectedUnsafe || kind == RejectedInvalid)
}

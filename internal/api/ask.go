package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/pipeline"
)

type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
	TopK     int    `json:"top_k"`
}

type retrieveRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

type retrievedTable struct {
	Table       string  `json:"table"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

type retrieveResponse struct {
	Question string           `json:"question"`
	Full     bool             `json:"full_schema"`
	Tables   []retrievedTable `json:"tables"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	serveQuestion(deps, w, r, true)
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	serveQuestion(deps, w, r, false)
}

func serveQuestion(deps Dependencies, w http.ResponseWriter, r *http.Request, execute bool) {
	if deps.Controller == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	if !decodeBody(w, r, &request, false) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	mode, err := pipeline.ParseMode(request.Mode)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUESTION", err.Error(), false, nil)
		return
	}

	question := pipeline.Question{Text: request.Question, Mode: mode, TopK: request.TopK}
	var outcome pipeline.Outcome
	if execute {
		outcome, err = deps.Controller.Ask(r.Context(), question)
	} else {
		outcome, err = deps.Controller.Translate(r.Context(), question)
	}
	if err != nil {
		writePipelineError(r.Context(), w, err, &outcome)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func handleRetrieve(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Controller == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	if err := requireRole(r, RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request retrieveRequest
	if !decodeBody(w, r, &request, false) {
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if request.TopK < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUESTION", "top_k must not be negative", false, nil)
		return
	}

	result, err := deps.Controller.Retrieve(r.Context(), request.Question, request.TopK)
	if err != nil {
		writePipelineError(r.Context(), w, err, nil)
		return
	}
	response := retrieveResponse{
		Question: strings.TrimSpace(request.Question),
		Full:     result.Full,
		Tables:   make([]retrievedTable, 0, len(result.Matches)),
	}
	for _, match := range result.Matches {
		response.Tables = append(response.Tables, retrievedTable{
			Table:       match.Table.ID(),
			Description: match.Table.Description,
			Score:       match.Score,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// decodeBody writes a 400 and returns false when the body is not a single
// JSON object of the expected shape. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func writePipelineError(ctx context.Context, w http.ResponseWriter, err error, outcome *pipeline.Outcome) {
	status, code := statusForError(err)
	extra := map[string]any{}
	var failed *failure.Error
	if errors.As(err, &failed) {
		if failed.Stage != "" {
			extra["stage"] = failed.Stage
		}
		if failed.SQL != "" {
			extra["sql"] = failed.SQL
		}
		if failed.Timeout {
			extra["timeout"] = true
		}
	}
	if outcome != nil {
		if outcome.Verdict != nil && outcome.Verdict.Rule != "" {
			extra["rule"] = outcome.Verdict.Rule
		}
		if outcome.ID != "" {
			extra["outcome"] = outcome
		}
	}
	if len(extra) == 0 {
		extra = nil
	}
	writeError(ctx, w, status, code, err.Error(), status == http.StatusServiceUnavailable, extra)
}

func statusForError(err error) (int, string) {
	if errors.Is(err, pipeline.ErrInvalidQuestion) {
		return http.StatusBadRequest, "INVALID_QUESTION"
	}
	kind, ok := failure.KindOf(err)
	if !ok {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return http.StatusGatewayTimeout, "TIMEOUT"
		case errors.Is(err, context.Canceled):
			return http.StatusServiceUnavailable, "CANCELLED"
		}
		return http.StatusInternalServerError, "INTERNAL"
	}
	switch kind {
	case failure.RejectedUnsafe, failure.RejectedInvalid, failure.NoCandidateProduced:
		return http.StatusUnprocessableEntity, string(kind)
	case failure.GenerationFailed:
		if errors.Is(err, failure.ErrTimeout) {
			return http.StatusGatewayTimeout, string(kind)
		}
		return http.StatusBadGateway, string(kind)
	case failure.RetrievalFailed:
		return http.StatusBadGateway, string(kind)
	case failure.ExecutionFailed:
		return http.StatusServiceUnavailable, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

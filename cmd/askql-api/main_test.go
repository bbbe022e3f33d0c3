package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askql/askql/internal/config"
	"github.com/askql/askql/internal/failure"
)

// fakeOllama answers /api/generate with a fenced statement chosen by the
// question found in the prompt.
func fakeOllama(t *testing.T, answers map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for question, statement := range answers {
			if strings.Contains(payload.Prompt, question) {
				_ = json.NewEncoder(w).Encode(map[string]string{"response": "```sql\n" + statement + "\n```"})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "I cannot answer that."})
	}))
}

func buildTestApp(t *testing.T, llmURL string) *application {
	t.Helper()
	env := map[string]string{
		"ASKQL_PROFILE":           "test",
		"ASKQL_DB_MAX_OPEN_CONNS": "1",
		"ASKQL_LLM_BASE_URL":      llmURL,
	}
	cfg, err := config.Load("askql-api", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	app, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	t.Cleanup(app.close)
	return app
}

func post(t *testing.T, handler http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode %s response: %v (%s)", path, err, rec.Body.String())
	}
	return rec, decoded
}

func TestBuildAnswersQuestionsAgainstDemoSchema(t *testing.T) {
	llm := fakeOllama(t, map[string]string{
		"count the orders placed": "SELECT COUNT(*) AS order_count FROM orders",
		"wipe the order history":  "DELETE FROM orders",
	})
	defer llm.Close()
	app := buildTestApp(t, llm.URL)

	rec, outcome := post(t, app.handler, "/v1/ask", `{"question":"count the orders placed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ask status = %d body=%s", rec.Code, rec.Body.String())
	}
	result, ok := outcome["result"].(map[string]any)
	if !ok {
		t.Fatalf("outcome has no result: %v", outcome)
	}
	rows, _ := result["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", result["rows"])
	}
	if got := rows[0].(map[string]any)["order_count"]; got != float64(8) {
		t.Fatalf("order_count = %v", got)
	}

	rec, body := post(t, app.handler, "/v1/ask", `{"question":"wipe the order history"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mutation status = %d body=%s", rec.Code, rec.Body.String())
	}
	if body["error_code"] != "REJECTED_UNSAFE" {
		t.Fatalf("error_code = %v", body["error_code"])
	}

	_, outcome = post(t, app.handler, "/v1/ask", `{"question":"count the orders placed"}`)
	rows = outcome["result"].(map[string]any)["rows"].([]any)
	if got := rows[0].(map[string]any)["order_count"]; got != float64(8) {
		t.Fatalf("order_count after rejected mutation = %v", got)
	}
}

func TestBuildTranslateSkipsExecution(t *testing.T) {
	llm := fakeOllama(t, map[string]string{"list every product": "SELECT product_name FROM products"})
	defer llm.Close()
	app := buildTestApp(t, llm.URL)

	rec, outcome := post(t, app.handler, "/v1/translate", `{"question":"list every product","mode":"full"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("translate status = %d body=%s", rec.Code, rec.Body.String())
	}
	if _, ok := outcome["result"]; ok {
		t.Fatalf("translate executed the statement: %v", outcome["result"])
	}
	verdict, _ := outcome["verdict"].(map[string]any)
	if verdict["status"] != "VALID" {
		t.Fatalf("verdict = %v", outcome["verdict"])
	}
	if outcome["full_schema"] != true {
		t.Fatalf("full_schema = %v", outcome["full_schema"])
	}
}

func TestBuildReportsMissingStatement(t *testing.T) {
	llm := fakeOllama(t, nil)
	defer llm.Close()
	app := buildTestApp(t, llm.URL)

	rec, body := post(t, app.handler, "/v1/ask", `{"question":"what is the meaning of life"}`)
	if rec.Code != http.StatusUnprocessableEntity || body["error_code"] != "NO_CANDIDATE_PRODUCED" {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestBuildRejectsUnknownCatalogSource(t *testing.T) {
	cfg, err := config.Load("askql-api", func(key string) (string, bool) {
		if key == "ASKQL_PROFILE" {
			return "test", true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	cfg.Catalog.Source = "nowhere"
	if _, err := build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected unsupported catalog source error")
	}
}

type explainStub struct{ err error }

func (s explainStub) CheckExplain(context.Context) error { return s.err }

func TestRequireExplainReportsConfigurationError(t *testing.T) {
	cause := errors.New("permission denied for EXPLAIN")
	err := requireExplain(context.Background(), explainStub{err: cause})
	if !failure.IsKind(err, failure.ConfigurationError) {
		t.Fatalf("requireExplain() = %v, want %s", err, failure.ConfigurationError)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("requireExplain() = %v, want wrapped cause", err)
	}
	if failure.IsRetryable(err) {
		t.Fatal("configuration errors must not be retryable")
	}

	if err := requireExplain(context.Background(), explainStub{}); err != nil {
		t.Fatalf("requireExplain() error = %v", err)
	}
}

package askqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const askResponse = `{
  "id": "outcome-1",
  "question": "orders per customer",
  "mode": "retrieval",
  "full_schema": false,
  "matches": [{"table": "customers", "score": 0.91}, {"table": "orders", "score": 0.74}],
  "prompt": {"system": "You are an expert SQL generator.", "user": "Question: orders per customer"},
  "candidate": {"sql": "SELECT c.customer_name, COUNT(*) AS order_count FROM customers c JOIN orders o ON o.customer_id = c.customer_id GROUP BY c.customer_name", "backend": "ollama", "model": "llama3.1:8b"},
  "verdict": {"status": "VALID", "stage": "VALID"},
  "result": {
    "columns": ["customer_name", "order_count", "revenue"],
    "rows": [
      {"customer_name": "Acme GmbH", "order_count": 3, "revenue": 564.88},
      {"customer_name": "Globex, Corp", "order_count": 2, "revenue": null}
    ],
    "row_count": 2,
    "truncated": false
  },
  "stages": []
}`

type recordedRequest struct {
	method string
	path   string
	apiKey string
	body   map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) handler(status int, response string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw, _ := io.ReadAll(req.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		r.mu.Lock()
		r.requests = append(r.requests, recordedRequest{
			method: req.Method,
			path:   req.URL.Path,
			apiKey: req.Header.Get("X-API-Key"),
			body:   body,
		})
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	})
}

func TestRunAskRendersTable(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, askResponse))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-mode", "full",
		"-top-k", "2",
		"ask", "orders", "per", "customer",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}

	if len(rec.requests) != 1 {
		t.Fatalf("requests = %d", len(rec.requests))
	}
	got := rec.requests[0]
	if got.method != http.MethodPost || got.path != "/v1/ask" || got.apiKey != "k1" {
		t.Fatalf("request = %+v", got)
	}
	if got.body["question"] != "orders per customer" || got.body["mode"] != "full" || got.body["top_k"] != float64(2) {
		t.Fatalf("body = %v", got.body)
	}

	out := stdout.String()
	for _, want := range []string{"Question: orders per customer", "customers (0.91)", "SELECT c.customer_name", "Validation: VALID", "Acme GmbH", "564.88", "NULL", "(2 rows)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "You are an expert") {
		t.Fatal("prompt printed without -show-prompt")
	}
}

func TestRunAskCSVKeepsColumnOrder(t *testing.T) {
	srv := httptest.NewServer((&recorder{}).handler(http.StatusOK, askResponse))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-format", "csv", "-show-prompt", "ask", "orders"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	out := stdout.String()
	for _, want := range []string{"customer_name,order_count,revenue", "Acme GmbH,3,564.88", `"Globex, Corp",2,NULL`, "You are an expert"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunAskWithoutQuestionUsesDefaults(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, askResponse))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "translate"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(rec.requests) != len(DefaultQuestions) {
		t.Fatalf("requests = %d, want %d", len(rec.requests), len(DefaultQuestions))
	}
	for i, req := range rec.requests {
		if req.path != "/v1/translate" || req.body["question"] != DefaultQuestions[i] {
			t.Fatalf("request %d = %+v", i, req)
		}
	}
}

func TestRunAskReportsRejection(t *testing.T) {
	srv := httptest.NewServer((&recorder{}).handler(http.StatusUnprocessableEntity, `{
  "error_code": "REJECTED_UNSAFE",
  "message": "rejected unsafe at validate: statement is a data mutation",
  "retryable": false,
  "context": {"sql": "DELETE FROM orders", "rule": "not-read-only", "stage": "validate"},
  "trace_id": "trace-1"
}`))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "delete", "everything"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"REJECTED_UNSAFE", "DELETE FROM orders", "not-read-only", "trace-1"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr.String())
		}
	}
}

func TestRunAskJSONPassesOutcomeThrough(t *testing.T) {
	srv := httptest.NewServer((&recorder{}).handler(http.StatusOK, askResponse))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-format", "json", "ask", "orders"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	var decoded map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["id"] != "outcome-1" {
		t.Fatalf("id = %v", decoded["id"])
	}
}

func TestRunRetrieveRendersScores(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"question":"revenue","full_schema":false,"tables":[{"table":"order_items","description":"Order lines","score":0.8123},{"table":"products","score":0.5}]}`))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-format", "markdown", "-top-k", "2", "retrieve", "revenue"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if rec.requests[0].path != "/v1/retrieve" || rec.requests[0].body["top_k"] != float64(2) {
		t.Fatalf("request = %+v", rec.requests[0])
	}
	if !strings.Contains(stdout.String(), "| order_items | 0.8123 | Order lines |") {
		t.Fatalf("output:\n%s", stdout.String())
	}
}

func TestRunReindexSendsForce(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"status":"completed"}`))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-force", "reindex"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	got := rec.requests[0]
	if got.method != http.MethodPost || got.path != "/v1/catalog/reindex" || got.body["force"] != true {
		t.Fatalf("request = %+v", got)
	}
	if !strings.Contains(stdout.String(), `"status": "completed"`) {
		t.Fatalf("output:\n%s", stdout.String())
	}
}

func TestRunSimpleCommands(t *testing.T) {
	for command, path := range map[string]string{
		"health":  "/v1/health",
		"ready":   "/v1/ready",
		"catalog": "/v1/catalog",
	} {
		rec := &recorder{}
		srv := httptest.NewServer(rec.handler(http.StatusOK, `{"status":"ok"}`))
		code := Run(context.Background(), []string{"-base-url", srv.URL, command}, Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%s exit code = %d", command, code)
		}
		if rec.requests[0].method != http.MethodGet || rec.requests[0].path != path {
			t.Fatalf("%s request = %+v", command, rec.requests[0])
		}
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN","message":"forbidden: dashboard lacks role \"catalog_admin\""}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "reindex"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "FORBIDDEN") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"unknown"},
		{"-format", "xml", "ask"},
		{"retrieve"},
	} {
		var stderr bytes.Buffer
		if code := Run(context.Background(), args, Options{Stderr: &stderr}); code != 2 {
			t.Fatalf("Run(%v) exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("Run(%v) expected usage output", args)
		}
	}
}

func TestDecodeValue(t *testing.T) {
	cases := map[string]string{
		`null`:                           "NULL",
		`42`:                             "42",
		`229.97`:                         "229.97",
		`"2024-01-10"`:                   "2024-01-10",
		`true`:                           "true",
		`123456789012345678901234567890`: "123456789012345678901234567890",
	}
	for raw, want := range cases {
		value, err := decodeValue(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("decodeValue(%s) error = %v", raw, err)
		}
		if value.String() != want {
			t.Fatalf("decodeValue(%s) = %q, want %q", raw, value.String(), want)
		}
	}
}

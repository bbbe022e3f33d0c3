package askqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/askql/askql/internal/render"
)

// DefaultQuestions are asked when ask or translate runs without a question.
var DefaultQuestions = []string{
	"Show me the top 5 customers by order count in 2024",
	"Show customers who placed orders in the last 30 days",
	"What is the total revenue per product category?",
}

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type settings struct {
	baseURL    string
	apiKey     string
	format     render.Format
	mode       string
	topK       int
	force      bool
	showPrompt bool
	client     *http.Client
	stdout     io.Writer
	stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askql API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 150*time.Second), "HTTP timeout (e.g. 30s)")
	format := fs.String("format", "table", "result format: table|markdown|csv|json")
	mode := fs.String("mode", "", "schema selection: retrieval|full (server default when empty)")
	topK := fs.Int("top-k", 0, "number of tables to retrieve (server default when 0)")
	force := fs.Bool("force", false, "reindex every table, not only changed ones")
	showPrompt := fs.Bool("show-prompt", false, "print the prompt sent to the model")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	parsedFormat, err := render.ParseFormat(*format)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}
	s := settings{
		baseURL:    strings.TrimRight(*baseURL, "/"),
		apiKey:     strings.TrimSpace(*apiKey),
		format:     parsedFormat,
		mode:       *mode,
		topK:       *topK,
		force:      *force,
		showPrompt: *showPrompt,
		client:     client,
		stdout:     stdout,
		stderr:     stderr,
	}

	command := strings.TrimSpace(fs.Arg(0))
	question := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	switch command {
	case "health":
		return s.passthrough(ctx, http.MethodGet, "/v1/health", nil)
	case "ready":
		return s.passthrough(ctx, http.MethodGet, "/v1/ready", nil)
	case "catalog":
		return s.passthrough(ctx, http.MethodGet, "/v1/catalog", nil)
	case "reindex":
		return s.passthrough(ctx, http.MethodPost, "/v1/catalog/reindex", map[string]any{"force": s.force})
	case "retrieve":
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "retrieve needs a question")
			return 2
		}
		return s.retrieve(ctx, question)
	case "ask", "translate":
		questions := []string{question}
		if question == "" {
			questions = DefaultQuestions
		}
		code := 0
		for i, q := range questions {
			if i > 0 {
				_, _ = fmt.Fprintln(stdout)
			}
			if c := s.ask(ctx, command, q); c != 0 {
				code = c
			}
		}
		return code
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func (s settings) passthrough(ctx context.Context, method, path string, payload any) int {
	code, body, err := s.do(ctx, method, path, payload)
	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		writeFailure(s.stderr, code, body)
		return 1
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(s.stdout, pretty)
		return 0
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(s.stdout, string(body))
	}
	return 0
}

func (s settings) retrieve(ctx context.Context, question string) int {
	payload := map[string]any{"question": question}
	if s.topK > 0 {
		payload["top_k"] = s.topK
	}
	code, body, err := s.do(ctx, http.MethodPost, "/v1/retrieve", payload)
	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		writeFailure(s.stderr, code, body)
		return 1
	}
	if s.format == render.FormatJSON {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(s.stdout, pretty)
		return 0
	}
	var response retrieveResponse
	if err := json.Unmarshal(body, &response); err != nil {
		_, _ = fmt.Fprintf(s.stderr, "decode response: %v\n", err)
		return 1
	}
	if err := render.Write(s.stdout, response.resultSet(), s.format); err != nil {
		_, _ = fmt.Fprintf(s.stderr, "render: %v\n", err)
		return 1
	}
	return 0
}

func (s settings) ask(ctx context.Context, command, question string) int {
	payload := map[string]any{"question": question}
	if s.mode != "" {
		payload["mode"] = s.mode
	}
	if s.topK > 0 {
		payload["top_k"] = s.topK
	}
	code, body, err := s.do(ctx, http.MethodPost, "/v1/"+command, payload)
	if err != nil {
		_, _ = fmt.Fprintf(s.stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(s.stdout, "Question: %s\n", question)
		writeFailure(s.stderr, code, body)
		return 1
	}
	if s.format == render.FormatJSON {
		pretty, _ := prettyJSON(body)
		_, _ = fmt.Fprintln(s.stdout, pretty)
		return 0
	}

	var outcome outcomeResponse
	if err := json.Unmarshal(body, &outcome); err != nil {
		_, _ = fmt.Fprintf(s.stderr, "decode response: %v\n", err)
		return 1
	}
	if err := writeOutcome(s.stdout, outcome, s.format, s.showPrompt); err != nil {
		_, _ = fmt.Fprintf(s.stderr, "render: %v\n", err)
		return 1
	}
	return 0
}

func (s settings) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askqlctl [flags] <command> [question]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask [question]       POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  translate [question] POST /v1/translate")
	_, _ = fmt.Fprintln(w, "  retrieve <question>  POST /v1/retrieve")
	_, _ = fmt.Fprintln(w, "  catalog              GET /v1/catalog")
	_, _ = fmt.Fprintln(w, "  reindex              POST /v1/catalog/reindex")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

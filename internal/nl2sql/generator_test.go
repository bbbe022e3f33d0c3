package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/askql/askql/internal/failure"
	"github.com/askql/askql/internal/prompt"
)

func TestOpenAIBackendSendsChatCompletion(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1;"}}]}`))
	}))
	defer server.Close()

	backend, err := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewOpenAIBackend() error = %v", err)
	}
	raw, err := backend.Complete(context.Background(), Completion{Model: "gpt-4", System: "sys", Prompt: "user", MaxTokens: 500})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if raw != "SELECT 1;" {
		t.Fatalf("Complete() = %q", raw)
	}
	if captured["model"] != "gpt-4" || captured["max_tokens"] != float64(500) || captured["temperature"] != float64(0) {
		t.Fatalf("payload = %v", captured)
	}
	messages := captured["messages"].([]any)
	if len(messages) != 2 || messages[0].(map[string]any)["role"] != "system" {
		t.Fatalf("messages = %v", messages)
	}
}

func TestNewOpenAIBackendRequiresKeyUnlessAnonymous(t *testing.T) {
	_, err := NewOpenAIBackend(OpenAIConfig{BaseURL: "http://localhost:8000"})
	if !failure.IsKind(err, failure.ConfigurationError) {
		t.Fatalf("NewOpenAIBackend() error = %v, want ConfigurationError", err)
	}
	if _, err := NewOpenAIBackend(OpenAIConfig{BaseURL: "http://localhost:8000", AllowAnonymous: true}); err != nil {
		t.Fatalf("NewOpenAIBackend(anonymous) error = %v", err)
	}
}

func TestOllamaBackendSendsGenerateRequest(t *testing.T) {
	var captured struct {
		Model   string         `json:"model"`
		Prompt  string         `json:"prompt"`
		Stream  bool           `json:"stream"`
		Options map[string]any `json:"options"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("Authorization = %q, want none", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"SELECT 2","done":true}`))
	}))
	defer server.Close()

	backend, err := NewOllamaBackend(OllamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}
	raw, err := backend.Complete(context.Background(), Completion{Model: "llama3.1:8b", System: "sys", Prompt: "user", MaxTokens: 500})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if raw != "SELECT 2" {
		t.Fatalf("Complete() = %q", raw)
	}
	if captured.Model != "llama3.1:8b" || captured.Prompt != "sys\n\nuser" || captured.Stream {
		t.Fatalf("payload = %+v", captured)
	}
	if captured.Options["num_predict"] != float64(500) || captured.Options["temperature"] != float64(0) {
		t.Fatalf("options = %v", captured.Options)
	}
}

func TestGenerateBuildsCandidate(t *testing.T) {
	backend := &stubBackend{raw: "```sql\nSELECT customer_name FROM customers;\n```"}
	generator, err := NewGenerator(backend, GeneratorOptions{Model: "stub-model"})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	candidate, err := generator.Generate(context.Background(), prompt.Request{
		System:      "sys",
		User:        "user",
		Fingerprint: "fp",
		Sampling:    prompt.Sampling{Temperature: 0, MaxTokens: 500},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if candidate.SQL != "SELECT customer_name FROM customers" {
		t.Fatalf("SQL = %q", candidate.SQL)
	}
	if candidate.ID == "" || candidate.Backend != "stub" || candidate.Model != "stub-model" || candidate.PromptFingerprint != "fp" {
		t.Fatalf("candidate = %+v", candidate)
	}
	if backend.last.System != "sys" || backend.last.Prompt != "user" || backend.last.MaxTokens != 500 {
		t.Fatalf("completion = %+v", backend.last)
	}
}

func TestGenerateNoCandidate(t *testing.T) {
	generator, err := NewGenerator(&stubBackend{raw: "I cannot help with that."}, GeneratorOptions{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), prompt.Request{})
	if !failure.IsKind(err, failure.NoCandidateProduced) {
		t.Fatalf("Generate() error = %v, want NoCandidateProduced", err)
	}
}

func TestGenerateBackendErrorsAreGenerationFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.RawQuery, "status"):
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		case strings.Contains(r.URL.RawQuery, "json"):
			_, _ = w.Write([]byte(`{not json`))
		default:
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}
	}))
	defer server.Close()

	for _, mode := range []string{"status", "json", "empty"} {
		t.Run(mode, func(t *testing.T) {
			backend, err := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL, APIKey: "k", HTTPClient: queryClient(mode)})
			if err != nil {
				t.Fatalf("NewOpenAIBackend() error = %v", err)
			}
			generator, err := NewGenerator(backend, GeneratorOptions{Model: "m"})
			if err != nil {
				t.Fatalf("NewGenerator() error = %v", err)
			}
			_, err = generator.Generate(context.Background(), prompt.Request{})
			if !failure.IsKind(err, failure.GenerationFailed) {
				t.Fatalf("Generate() error = %v, want GenerationFailed", err)
			}
			if errors.Is(err, failure.ErrTimeout) {
				t.Fatal("non-timeout failure should not match ErrTimeout")
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	backend, err := NewOllamaBackend(OllamaConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllamaBackend() error = %v", err)
	}
	generator, err := NewGenerator(backend, GeneratorOptions{Model: "m", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), prompt.Request{})
	if !failure.IsKind(err, failure.GenerationFailed) || !errors.Is(err, failure.ErrTimeout) {
		t.Fatalf("Generate() error = %v, want timed out GenerationFailed", err)
	}
}

func TestGenerateCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	generator, err := NewGenerator(&stubBackend{err: context.Canceled}, GeneratorOptions{})
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if _, err := generator.Generate(ctx, prompt.Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
}

type stubBackend struct {
	raw  string
	err  error
	last Completion
}

func (s *stubBackend) Name() string     { return "stub" }
func (s *stubBackend) Endpoint() string { return "stub://" }

func (s *stubBackend) Complete(_ context.Context, c Completion) (string, error) {
	s.last = c
	return s.raw, s.err
}

// queryClient tags every request with a query string so one test server
// can serve several failure modes.
func queryClient(mode string) *http.Client {
	return &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.URL.RawQuery = mode
		return http.DefaultTransport.RoundTrip(r)
	})}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

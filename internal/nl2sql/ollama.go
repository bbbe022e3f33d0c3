package nl2sql

import (
	"context"
	"fmt"
	"net/http"

	"github.com/askql/askql/internal/failure"
)

type OllamaConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// OllamaBackend calls a local Ollama server. It sends no credentials.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

func NewOllamaBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	baseURL := trimBaseURL(cfg.BaseURL)
	if baseURL == "" {
		return nil, failure.Configuration("ollama base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OllamaBackend{baseURL: baseURL, client: client}, nil
}

func (b *OllamaBackend) Name() string {
	return "ollama"
}

func (b *OllamaBackend) Endpoint() string {
	return b.baseURL + "/api/generate"
}

func (b *OllamaBackend) Complete(ctx context.Context, c Completion) (string, error) {
	prompt := c.Prompt
	if c.System != "" {
		prompt = c.System + "\n\n" + c.Prompt
	}
	options := map[string]any{"temperature": c.Temperature}
	if c.MaxTokens > 0 {
		options["num_predict"] = c.MaxTokens
	}
	payload := map[string]any{
		"model":   c.Model,
		"prompt":  prompt,
		"stream":  false,
		"options": options,
	}

	var parsed struct {
		Response *string `json:"response"`
		Error    string  `json:"error"`
	}
	if err := postJSON(ctx, b.client, b.Endpoint(), "", payload, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama: %s", parsed.Error)
	}
	if parsed.Response == nil {
		return "", fmt.Errorf("ollama response has no response field")
	}
	return *parsed.Response, nil
}

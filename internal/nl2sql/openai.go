package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/askql/askql/internal/failure"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	// AllowAnonymous permits a missing key, for self-hosted
	// OpenAI-compatible servers such as vLLM.
	AllowAnonymous bool
	HTTPClient     *http.Client
}

// OpenAIBackend calls a hosted chat completions endpoint.
type OpenAIBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	baseURL := trimBaseURL(cfg.BaseURL)
	if baseURL == "" {
		return nil, failure.Configuration("openai base URL is required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && !cfg.AllowAnonymous {
		return nil, failure.Configuration("openai api key is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIBackend{baseURL: baseURL, apiKey: apiKey, client: client}, nil
}

func (b *OpenAIBackend) Name() string {
	return "openai"
}

func (b *OpenAIBackend) Endpoint() string {
	return b.baseURL + "/v1/chat/completions"
}

func (b *OpenAIBackend) Complete(ctx context.Context, c Completion) (string, error) {
	payload := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": c.System},
			{"role": "user", "content": c.Prompt},
		},
		"temperature": c.Temperature,
	}
	if c.MaxTokens > 0 {
		payload["max_tokens"] = c.MaxTokens
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, b.client, b.Endpoint(), b.apiKey, payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

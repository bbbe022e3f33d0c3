package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama calls a locally served model. No credentials are sent.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Ollama{baseURL: baseURL, model: model, client: &http.Client{Timeout: timeout}}, nil
}

func (e *Ollama) Model() string {
	return "ollama/" + e.model
}

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	payload := map[string]any{"model": e.model, "prompt": text}
	if err := postJSON(ctx, e.client, e.baseURL+"/api/embeddings", "", payload, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return toFloat32(parsed.Embedding), nil
}

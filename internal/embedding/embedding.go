// Package embedding turns text into fixed-length vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Embedder is a pure function of text for a given Model. Model names the
// model version and changes whenever vectors would change.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal embedding payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request embedding: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read embedding response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("embedding failed status=%d body=%s", resp.StatusCode, truncate(raw, 512))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode embedding response: %w", err)
	}
	return nil
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}

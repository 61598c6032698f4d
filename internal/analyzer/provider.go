package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the out-of-band model call used for semantic analysis.
// The system and user parts MUST be kept in distinct roles — collapsing
// them into one undifferentiated prompt would let injected text hijack
// the analysis itself.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, system, user string) (string, error)
}

// HTTPProvider calls an OpenAI-compatible chat completions endpoint.
type HTTPProvider struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
	client  *http.Client
}

// NewHTTPProvider creates a provider for an OpenAI-compatible endpoint.
func NewHTTPProvider(url, apiKey, model string, timeout time.Duration) *HTTPProvider {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		URL:     url,
		APIKey:  apiKey,
		Model:   model,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return "openai-compatible" }

// Analyze posts the two prompt parts as separate chat roles and
// returns the raw model reply.
func (p *HTTPProvider) Analyze(ctx context.Context, system, user string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"model": p.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens":  512,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("analyzer: create request: %w", err)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analyzer: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analyzer: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", fmt.Errorf("analyzer: empty response")
	}

	return result.Choices[0].Message.Content, nil
}

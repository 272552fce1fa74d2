package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TextCompletion is the shared oracle behind intent classification, SQL
// drafting, and answer synthesis. Every call site owns its own deterministic
// fallback for when the oracle is unavailable or exhausts its retries; this
// interface only has to return text or an error.
type TextCompletion interface {
	Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)
}

// OpenAICompletion calls an OpenAI-compatible chat completion endpoint.
type OpenAICompletion struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAICompletion creates an OpenAICompletion. baseURL is the API root
// (e.g. "https://api.openai.com/v1").
func NewOpenAICompletion(baseURL, apiKey, model string) *OpenAICompletion {
	return &OpenAICompletion{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete issues a single chat completion request, retrying on rate-limit
// responses via the shared backoff schedule.
func (c *OpenAICompletion) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	return withRetry(ctx, "Complete", func() (string, error) {
		return c.doComplete(ctx, system, user, temperature, maxTokens)
	})
}

func (c *OpenAICompletion) doComplete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("oracle.doComplete: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("oracle.doComplete: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle.doComplete: call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("oracle.doComplete: read body: %w", err)
	}

	if isRetryableStatus(resp.StatusCode) {
		return "", fmt.Errorf("oracle.doComplete: status %d (429/503): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle.doComplete: status %d: %s", resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("oracle.doComplete: decode: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("oracle.doComplete: api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("oracle.doComplete: no choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// NullCompletion is the local/opt-out mode: it always returns an error so
// callers exercise their deterministic fallback path rather than silently
// returning an empty answer.
type NullCompletion struct{}

func (NullCompletion) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	return "", fmt.Errorf("oracle: text completion disabled (VAULT_EMBED_BACKEND=local)")
}

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxEmbedBatchTokens bounds how many approximate tokens are sent in one
// embedding request; callers split larger batches across multiple requests.
const maxEmbedBatchTokens = 250_000

// VectorEncoder maps text to a dense vector via a pluggable oracle. D is
// fixed for the process lifetime.
type VectorEncoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// LocalEncoder is the opt-out mode: ingestion succeeds without a real
// embedding call, returning zero vectors so the retriever's fallback path
// (lexical + recency only) is exercised.
type LocalEncoder struct {
	dims int
}

// NewLocalEncoder creates a LocalEncoder of the given dimensionality.
func NewLocalEncoder(dims int) *LocalEncoder {
	if dims <= 0 {
		dims = 768
	}
	return &LocalEncoder{dims: dims}
}

func (e *LocalEncoder) Dimensions() int { return e.dims }

func (e *LocalEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dims), nil
}

func (e *LocalEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

// OpenAIEncoder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEncoder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewOpenAIEncoder creates an OpenAIEncoder. baseURL is the API root
// (e.g. "https://api.openai.com/v1").
func NewOpenAIEncoder(baseURL, apiKey, model string, dims int) *OpenAIEncoder {
	if dims <= 0 {
		dims = 768
	}
	return &OpenAIEncoder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
	}
}

func (e *OpenAIEncoder) Dimensions() int { return e.dims }

func (e *OpenAIEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch splits texts into sub-batches respecting maxEmbedBatchTokens
// and preserves input order in the output, per the coordinator's batching
// contract.
func (e *OpenAIEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, 0, len(texts))
	batch := make([]string, 0, len(texts))
	budget := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		vecs, err := withRetry(ctx, "EncodeBatch", func() ([][]float32, error) {
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			return err
		}
		result = append(result, vecs...)
		batch = batch[:0]
		budget = 0
		return nil
	}

	for _, t := range texts {
		tokens := estimateTokens(t)
		if budget > 0 && budget+tokens > maxEmbedBatchTokens {
			if err := flush(); err != nil {
				return nil, fmt.Errorf("oracle.EncodeBatch: %w", err)
			}
		}
		batch = append(batch, t)
		budget += tokens
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("oracle.EncodeBatch: %w", err)
	}

	if len(result) != len(texts) {
		return nil, fmt.Errorf("oracle.EncodeBatch: got %d vectors for %d texts", len(result), len(texts))
	}
	return result, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *OpenAIEncoder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("oracle.doEmbed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("oracle.doEmbed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle.doEmbed: call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oracle.doEmbed: read body: %w", err)
	}

	if isRetryableStatus(resp.StatusCode) {
		return nil, fmt.Errorf("oracle.doEmbed: status %d (429/503): %s", resp.StatusCode, raw)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle.doEmbed: status %d: %s", resp.StatusCode, raw)
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("oracle.doEmbed: decode: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("oracle.doEmbed: api error: %s", parsed.Error.Message)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func estimateTokens(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	return int(float64(words)*1.3) + 1
}

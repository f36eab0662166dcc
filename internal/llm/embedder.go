package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VectorDim is the frozen embedding width for the named-vector schema (C4).
const VectorDim = 384

// Embedder maps text to a unit-norm 384-dim vector (C1, external).
type Embedder interface {
	Embed(ctx context.Context, text string) ([VectorDim]float32, error)
}

// HTTPEmbedder calls an external embedding endpoint over HTTP, mirroring the
// teacher's HTTPClient request shape for the completion endpoint.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPEmbedder(baseURL, apiKey, model string, httpClient *http.Client) *HTTPEmbedder {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPEmbedder{baseURL: baseURL, apiKey: apiKey, model: model, client: httpClient}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([VectorDim]float32, error) {
	var out [VectorDim]float32
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, &RetryableError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return out, &RetryableError{Err: fmt.Errorf("embedder: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("embedder: status %d", resp.StatusCode)
	}
	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return out, fmt.Errorf("embedder: decode: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) != VectorDim {
		return out, fmt.Errorf("embedder: unexpected embedding shape")
	}
	copy(out[:], decoded.Data[0].Embedding)
	return out, nil
}

// EmbedPrefixed embeds text+prefix, per the frozen named-vector prefix
// conventions: "", "emotion {primary}: ", "concept {semantic_key}: ".
func EmbedPrefixed(ctx context.Context, e Embedder, prefix, text string) ([VectorDim]float32, error) {
	return e.Embed(ctx, prefix+text)
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// EmotionAnalyzer maps text to the fixed eleven-field emotion record (C2,
// external). Invocation must be serialized per character instance; callers
// should hold one analyzer per character and never call it concurrently for
// the same instance.
type EmotionAnalyzer interface {
	Analyze(ctx context.Context, text string) (domain.EmotionRecord, error)
}

// HTTPEmotionAnalyzer wraps an external classifier endpoint with a mutex,
// enforcing the per-instance serialization the spec requires.
type HTTPEmotionAnalyzer struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu sync.Mutex
}

func NewHTTPEmotionAnalyzer(baseURL, apiKey string, httpClient *http.Client) *HTTPEmotionAnalyzer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPEmotionAnalyzer{baseURL: baseURL, apiKey: apiKey, client: httpClient}
}

func (a *HTTPEmotionAnalyzer) Analyze(ctx context.Context, text string) (domain.EmotionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var rec domain.EmotionRecord
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return rec, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return rec, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return rec, &RetryableError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return rec, &RetryableError{Err: fmt.Errorf("emotion analyzer: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return rec, fmt.Errorf("emotion analyzer: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return rec, fmt.Errorf("emotion analyzer: decode: %w", err)
	}
	return rec, nil
}

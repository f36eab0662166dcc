package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPClient implements LLMClient over an OpenAI-compatible chat-completions
// endpoint.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpClient,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *HTTPClient) Complete(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (CompletionResult, error) {
	var out CompletionResult
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
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
		return out, &RetryableError{Err: fmt.Errorf("llm client: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("llm client: status %d", resp.StatusCode)
	}
	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return out, fmt.Errorf("llm client: decode: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return out, fmt.Errorf("llm client: empty response")
	}
	out.Text = decoded.Choices[0].Message.Content
	out.Usage = Usage{
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
	}
	return out, nil
}

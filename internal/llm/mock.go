package llm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// MockClient is a fake LLMClient for tests; it never hits the network.
type MockClient struct {
	Response string
	Err      error

	Calls int32

	mu           sync.Mutex
	lastMessages []Message
}

func (m *MockClient) Complete(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (CompletionResult, error) {
	atomic.AddInt32(&m.Calls, 1)
	m.mu.Lock()
	m.lastMessages = messages
	m.mu.Unlock()
	if m.Err != nil {
		return CompletionResult{}, m.Err
	}
	return CompletionResult{Text: m.Response, Usage: Usage{TotalTokens: len(m.Response)}}, nil
}

// LastMessages returns the message slice passed to the most recent Complete
// call, letting tests assert on what the assembler actually sent upstream.
func (m *MockClient) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessages
}

// MockEmbedder is a fake Embedder for tests.
type MockEmbedder struct {
	Vector [VectorDim]float32
	Err    error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([VectorDim]float32, error) {
	if m.Err != nil {
		return [VectorDim]float32{}, m.Err
	}
	return m.Vector, nil
}

// MockEmotionAnalyzer is a fake EmotionAnalyzer for tests. It counts calls so
// the "invoked at most twice per turn" property can be verified directly.
type MockEmotionAnalyzer struct {
	Record domain.EmotionRecord
	Err     error

	mu    sync.Mutex
	calls int
}

func (m *MockEmotionAnalyzer) Analyze(ctx context.Context, text string) (domain.EmotionRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.Err != nil {
		return domain.EmotionRecord{}, m.Err
	}
	return m.Record, nil
}

func (m *MockEmotionAnalyzer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

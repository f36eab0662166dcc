package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// LimitedClient wraps an LLMClient with a bounded-concurrency semaphore,
// giving C3 the same per-store connection-pool discipline spec §5 requires
// for C4/C5/C6 (default: 10 concurrent completions per character instance).
// golang.org/x/sync is already a module dependency for the persistence
// coordinator's errgroup fan-out; semaphore is the same package's bounded-
// concurrency primitive, so no new dependency is introduced.
type LimitedClient struct {
	Client LLMClient
	sem    *semaphore.Weighted
}

// NewLimitedClient bounds concurrent Complete calls through client to max.
// max <= 0 falls back to spec's documented default of 10.
func NewLimitedClient(client LLMClient, max int) *LimitedClient {
	if max <= 0 {
		max = 10
	}
	return &LimitedClient{Client: client, sem: semaphore.NewWeighted(int64(max))}
}

func (l *LimitedClient) Complete(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (CompletionResult, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return CompletionResult{}, err
	}
	defer l.sem.Release(1)
	return l.Client.Complete(ctx, messages, model, temperature, maxTokens)
}

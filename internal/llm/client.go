package llm

import "context"

// LLMClient generates completions from an external language model (C3).
// Implementations must surface rate-limit and timeout errors as
// *RetryableError so the orchestrator's phase-7 single-retry policy applies.
type LLMClient interface {
	Complete(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (CompletionResult, error)
}

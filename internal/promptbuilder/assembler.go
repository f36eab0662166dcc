package promptbuilder

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/kairos-ai/kairos-core/internal/llm"
)

const (
	defaultTokenBudget     = 16000
	defaultDedupPrefixChars = 100
	maxHistoryMessages      = 15
)

// Assembler runs the six-step assembly algorithm from spec §4.C9.
type Assembler struct {
	TokenBudget      int
	DedupPrefixChars int
}

func New(tokenBudget, dedupPrefixChars int) *Assembler {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	if dedupPrefixChars <= 0 {
		dedupPrefixChars = defaultDedupPrefixChars
	}
	return &Assembler{TokenBudget: tokenBudget, DedupPrefixChars: dedupPrefixChars}
}

// HistoryTurn is one prior user/assistant exchange, chronological.
type HistoryTurn struct {
	UserContent string
	BotContent  string
}

// Assembled is the final rendering: one system message plus the alternating
// history and the current user message.
type Assembled struct {
	SystemPrompt string
	Messages     []llm.Message
	Included     []Component
	Truncated    []Kind
}

// Assemble runs steps 1-6 of the algorithm and appends history + the current
// user message.
func (a *Assembler) Assemble(components []Component, history []HistoryTurn, userMessage string) Assembled {
	// Step 1: drop inapplicable components, preserving insertion order.
	kept := make([]Component, 0, len(components))
	for _, c := range components {
		if c.applicable() {
			kept = append(kept, c)
		}
	}

	// Anti-hallucination rule: if MEMORY_NARRATIVE is absent, add the fixed
	// component at priority 5.
	if !hasKind(kept, KindMemoryNarrative) {
		kept = append(kept, Component{
			Kind: KindAntiHallucination, Priority: 5, Required: false,
			Content: AntiHallucinationText, TokenEstimate: estimateTokens(AntiHallucinationText),
		})
	}

	// Step 2: stable sort by priority ascending (insertion order preserved
	// for ties, per Go's sort.SliceStable).
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Priority < kept[j].Priority })

	// Step 3: content-hash dedup on the first DedupPrefixChars characters.
	kept = a.dedup(kept)

	// Step 4: enforce the token budget.
	kept, truncated := a.enforceBudget(kept)

	// Step 5: render into one system message.
	systemPrompt := a.render(kept)

	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}
	msgs = append(msgs, renderHistory(history)...)
	msgs = append(msgs, llm.Message{Role: "user", Content: userMessage})

	return Assembled{SystemPrompt: systemPrompt, Messages: msgs, Included: kept, Truncated: truncated}
}

func hasKind(components []Component, k Kind) bool {
	for _, c := range components {
		if c.Kind == k {
			return true
		}
	}
	return false
}

func (a *Assembler) dedup(components []Component) []Component {
	seen := make(map[string]bool, len(components))
	out := make([]Component, 0, len(components))
	for _, c := range components {
		key := hashPrefix(c.Content, a.DedupPrefixChars)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func hashPrefix(content string, n int) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > n {
		trimmed = trimmed[:n]
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}

func estimateTokens(s string) int {
	// rough token estimate; ~4 chars/token, matching common heuristics used
	// pack-wide for budget accounting without a tokenizer dependency.
	return (len(s) + 3) / 4
}

func totalTokens(components []Component) int {
	total := 0
	for _, c := range components {
		total += c.TokenEstimate
	}
	return total
}

// enforceBudget applies step 4: keep all required components, add the rest
// in priority order until exhausted, then truncate MEMORY_NARRATIVE and
// RECENT_HISTORY (in that order) if still over budget.
func (a *Assembler) enforceBudget(components []Component) ([]Component, []Kind) {
	if totalTokens(components) <= a.TokenBudget {
		return components, nil
	}

	var required, optional []Component
	for _, c := range components {
		if c.Required {
			required = append(required, c)
		} else {
			optional = append(optional, c)
		}
	}

	budgetUsed := totalTokens(required)
	kept := append([]Component{}, required...)
	for _, c := range optional {
		if budgetUsed+c.TokenEstimate > a.TokenBudget {
			// MEMORY_NARRATIVE and RECENT_HISTORY take whatever budget is
			// left and are cut down to fit below instead of being dropped.
			if (c.Kind == KindMemoryNarrative || c.Kind == KindRecentHistory) && budgetUsed < a.TokenBudget {
				kept = append(kept, c)
				budgetUsed = a.TokenBudget
			}
			continue
		}
		kept = append(kept, c)
		budgetUsed += c.TokenEstimate
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Priority < kept[j].Priority })

	var truncatedKinds []Kind
	if totalTokens(kept) > a.TokenBudget {
		for _, k := range []Kind{KindMemoryNarrative, KindRecentHistory} {
			kept = truncateKind(kept, k, a.TokenBudget)
			truncatedKinds = append(truncatedKinds, k)
			if totalTokens(kept) <= a.TokenBudget {
				break
			}
		}
	}
	return kept, truncatedKinds
}

// truncateKind shortens the named component's content until the running
// total fits, never touching required components.
func truncateKind(components []Component, k Kind, budget int) []Component {
	out := make([]Component, len(components))
	copy(out, components)
	for i, c := range out {
		if c.Kind != k || c.Required {
			continue
		}
		overBy := totalTokens(out) - budget
		if overBy <= 0 {
			break
		}
		keepChars := len(c.Content) - overBy*4
		if keepChars < 0 {
			keepChars = 0
		}
		if keepChars < len(c.Content) {
			c.Content = c.Content[:keepChars]
			c.TokenEstimate = estimateTokens(c.Content)
			out[i] = c
		}
	}
	return out
}

func (a *Assembler) render(components []Component) string {
	var sb strings.Builder
	for i, c := range components {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if header, ok := sectionHeaders[c.Kind]; ok {
			sb.WriteString(header)
			sb.WriteString("\n")
		}
		sb.WriteString(c.Content)
	}
	return sb.String()
}

func renderHistory(history []HistoryTurn) []llm.Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	msgs := make([]llm.Message, 0, len(history)*2)
	for _, h := range history {
		if h.UserContent != "" {
			msgs = append(msgs, llm.Message{Role: "user", Content: h.UserContent})
		}
		if h.BotContent != "" {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: h.BotContent})
		}
	}
	return msgs
}

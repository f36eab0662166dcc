package promptbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func comp(kind Kind, priority int, required bool, content string) Component {
	return Component{Kind: kind, Priority: priority, Required: required, Content: content, TokenEstimate: estimateTokens(content)}
}

func TestAssemble_dropsInapplicableComponents(t *testing.T) {
	a := New(16000, 100)
	components := []Component{
		comp(KindCoreSystem, 1, true, "You are Aria."),
		comp(KindUserFacts, 2, false, ""),
		{Kind: KindStyleGuidance, Priority: 3, Content: "be warm", TokenEstimate: 2, Condition: func() bool { return false }},
	}
	out := a.Assemble(components, nil, "hi")
	assert.Contains(t, out.SystemPrompt, "You are Aria.")
	assert.NotContains(t, out.SystemPrompt, "be warm")
}

func TestAssemble_addsAntiHallucinationWhenNoMemoryNarrative(t *testing.T) {
	a := New(16000, 100)
	out := a.Assemble([]Component{comp(KindCoreSystem, 1, true, "You are Aria.")}, nil, "hi")
	assert.Contains(t, out.SystemPrompt, AntiHallucinationText)
}

func TestAssemble_noAntiHallucinationWhenMemoryNarrativePresent(t *testing.T) {
	a := New(16000, 100)
	out := a.Assemble([]Component{
		comp(KindCoreSystem, 1, true, "You are Aria."),
		comp(KindMemoryNarrative, 4, false, "Last week you mentioned a new job."),
	}, nil, "hi")
	assert.NotContains(t, out.SystemPrompt, AntiHallucinationText)
}

func TestAssemble_dedupsIdenticalContentByPrefixHash(t *testing.T) {
	a := New(16000, 100)
	dup := comp(KindUserFacts, 2, false, "User likes hiking.")
	out := a.Assemble([]Component{dup, dup}, nil, "hi")
	assert.Equal(t, 1, strings.Count(out.SystemPrompt, "User likes hiking."))
}

func TestAssemble_sortsByPriorityAscending(t *testing.T) {
	a := New(16000, 100)
	low := comp(KindStyleGuidance, 9, false, "STYLEMARK")
	high := comp(KindCoreSystem, 1, true, "COREMARK")
	out := a.Assemble([]Component{low, high}, nil, "hi")
	assert.Less(t, strings.Index(out.SystemPrompt, "COREMARK"), strings.Index(out.SystemPrompt, "STYLEMARK"))
}

func TestAssemble_truncatesMemoryNarrativeBeforeDroppingRequired(t *testing.T) {
	a := New(50, 100)
	required := comp(KindCoreSystem, 1, true, "core identity text that must always survive truncation")
	memory := comp(KindMemoryNarrative, 5, false, strings.Repeat("memory filler text ", 200))

	out := a.Assemble([]Component{required, memory}, nil, "hi")
	assert.Contains(t, out.SystemPrompt, "core identity text that must always survive truncation")
	assert.Contains(t, out.Truncated, KindMemoryNarrative)
}

func TestAssemble_rendersHistoryThenUserMessage(t *testing.T) {
	a := New(16000, 100)
	history := []HistoryTurn{{UserContent: "hi", BotContent: "hello!"}}
	out := a.Assemble([]Component{comp(KindCoreSystem, 1, true, "core")}, history, "how are you?")

	require.Len(t, out.Messages, 4)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "user", out.Messages[1].Role)
	assert.Equal(t, "hi", out.Messages[1].Content)
	assert.Equal(t, "assistant", out.Messages[2].Role)
	assert.Equal(t, "user", out.Messages[3].Role)
	assert.Equal(t, "how are you?", out.Messages[3].Content)
}

func TestAssemble_historyCappedAtMaxHistoryMessages(t *testing.T) {
	a := New(16000, 100)
	var history []HistoryTurn
	for i := 0; i < maxHistoryMessages+5; i++ {
		history = append(history, HistoryTurn{UserContent: "msg", BotContent: "reply"})
	}
	out := a.Assemble([]Component{comp(KindCoreSystem, 1, true, "core")}, history, "latest")
	assert.LessOrEqual(t, len(out.Messages), 1+maxHistoryMessages*2+1)
}

func TestNew_appliesDefaultsForNonPositiveInputs(t *testing.T) {
	a := New(0, -5)
	assert.Equal(t, defaultTokenBudget, a.TokenBudget)
	assert.Equal(t, defaultDedupPrefixChars, a.DedupPrefixChars)
}

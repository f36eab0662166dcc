package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/promptbuilder"
	"github.com/kairos-ai/kairos-core/internal/retriever"
)

// coreComponents are the two components every turn carries regardless of
// intelligence gathered this turn: the base system framing and the
// attachment-handling policy.
func coreComponents(turn domain.Turn) []promptbuilder.Component {
	core := promptbuilder.Component{
		Kind: promptbuilder.KindCoreSystem, Priority: 0, Required: true,
		Content:       "You are a character in an ongoing conversation. Stay in character and respond naturally to the user's message.",
		TokenEstimate: 20,
	}
	components := []promptbuilder.Component{core}

	if len(turn.Attachments) > 0 {
		kinds := make([]string, 0, len(turn.Attachments))
		for _, a := range turn.Attachments {
			kinds = append(kinds, a.Kind)
		}
		content := "The user attached: " + strings.Join(kinds, ", ") + ". Acknowledge them naturally if relevant."
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindAttachmentPolicy, Priority: 4, Content: content,
			TokenEstimate: estimateTokens(content),
		})
	}
	return components
}

// contextComponents renders the facts/memories/relationship/confidence
// components gathered by C5/C8/C11 this turn. noPriorHistory is C8's "fewer
// than 3 survivors" signal (spec §4.C8); when set, MEMORY_NARRATIVE is
// suppressed even if a thin set of memories survived, so the assembler's
// anti-hallucination rule fires instead of letting the model lean on a
// sparse, likely-unreliable memory narrative.
func contextComponents(bundle *domain.IntelligenceBundle, memories []retriever.RankedMemory, noPriorHistory bool) []promptbuilder.Component {
	var components []promptbuilder.Component

	if content := factsText(bundle.UserFacts); content != "" {
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindUserFacts, Priority: 15, Content: content,
			TokenEstimate: estimateTokens(content),
		})
	}

	if content := memoryText(memories); content != "" && !noPriorHistory {
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindMemoryNarrative, Priority: 16, Content: content,
			TokenEstimate: estimateTokens(content),
		})
	}

	relContent := fmt.Sprintf("Trust %.2f, affection %.2f, attunement %.2f after %d prior exchanges (%s).",
		bundle.RelationshipState.Trust, bundle.RelationshipState.Affection,
		bundle.RelationshipState.Attunement, bundle.RelationshipState.InteractionCount,
		bundle.RelationshipState.DepthLabel)
	components = append(components, promptbuilder.Component{
		Kind: promptbuilder.KindRelationshipContext, Priority: 25, Content: relContent,
		TokenEstimate: estimateTokens(relContent),
	})

	if bundle.Confidence.Overall < 0.6 {
		confContent := fmt.Sprintf("Your confidence in the available context this turn is low (%.2f).", bundle.Confidence.Overall)
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindConfidenceContext, Priority: 26, Content: confContent,
			TokenEstimate: estimateTokens(confContent),
		})
	}

	return components
}

func factsText(facts []domain.UserFact) string {
	if len(facts) == 0 {
		return ""
	}
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s (%s, %s)", f.EntityName, f.EntityType, f.RelationshipType))
	}
	return strings.Join(lines, "\n")
}

func memoryText(memories []retriever.RankedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, "- "+m.Memory.Content)
	}
	return strings.Join(lines, "\n")
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Package promptbuilder implements C9: priority-ordered, token-budgeted,
// component-based prompt assembly. This supersedes a string-concatenation
// approach by design — see the "priority-based assembly vs. string
// concatenation" design note: losing content under token pressure and
// blocking model-specific formatting are the failure modes this model
// avoids.
package promptbuilder

// Kind enumerates the fourteen component kinds from spec §4.C9.
type Kind string

const (
	KindCoreSystem             Kind = "CORE_SYSTEM"
	KindAttachmentPolicy       Kind = "ATTACHMENT_POLICY"
	KindUserFacts              Kind = "USER_FACTS"
	KindMemoryNarrative        Kind = "MEMORY_NARRATIVE"
	KindConversationSummary    Kind = "CONVERSATION_SUMMARY"
	KindRecentHistory          Kind = "RECENT_HISTORY"
	KindRelationshipContext    Kind = "RELATIONSHIP_CONTEXT"
	KindConfidenceContext      Kind = "CONFIDENCE_CONTEXT"
	KindCharacterIdentity      Kind = "CHARACTER_IDENTITY"
	KindCharacterVoice         Kind = "CHARACTER_VOICE"
	KindCharacterEmotionalState Kind = "CHARACTER_EMOTIONAL_STATE"
	KindAIIdentityDisclosure   Kind = "AI_IDENTITY_DISCLOSURE"
	KindAntiHallucination      Kind = "ANTI_HALLUCINATION"
	KindStyleGuidance          Kind = "STYLE_GUIDANCE"
)

// sectionHeaders gives the default model-agnostic rendering header for a
// kind; kinds absent from this map render with no header (bare content).
var sectionHeaders = map[Kind]string{
	KindUserFacts:           "USER CONTEXT:",
	KindMemoryNarrative:     "RELEVANT MEMORIES:",
	KindConversationSummary: "CONVERSATION SUMMARY:",
	KindRelationshipContext: "RELATIONSHIP:",
	KindConfidenceContext:   "CONFIDENCE:",
}

// Component is one labeled unit of the assembled system prompt.
type Component struct {
	Kind          Kind
	Priority      int
	Required      bool
	Content       string
	TokenEstimate int

	// Condition, if non-nil and false, drops the component before assembly.
	Condition func() bool
}

func (c Component) applicable() bool {
	if c.Condition != nil && !c.Condition() {
		return false
	}
	return c.Content != ""
}

// AntiHallucinationText is the fixed text emitted when MEMORY_NARRATIVE is
// empty, per spec §4.C9.
const AntiHallucinationText = "You have no prior memories of this user. Do not invent or fabricate recollections of past conversations; if asked about shared history, say you don't recall it."

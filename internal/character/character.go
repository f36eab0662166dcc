// Package character implements C10: turning a read-mostly CharacterDefinition
// plus the per-turn intelligence bundle into the CHARACTER_* prompt components,
// with a short-lived in-memory cache over the relational lookup.
package character

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/promptbuilder"
	"github.com/kairos-ai/kairos-core/internal/relational"
)

const cacheTTL = time.Hour

// aiIdentityPattern matches direct "are you an AI/bot/real" questions; only
// checked for real_world archetype characters per spec §4.C10.
var aiIdentityPattern = regexp.MustCompile(`(?i)are you (an? )?(ai|bot|real)\b`)

type cacheEntry struct {
	def       domain.CharacterDefinition
	expiresAt time.Time
}

// Integrator is C10.
type Integrator struct {
	Store relational.Store

	// DisclosureEnabled mirrors the ENABLE_AI_IDENTITY_DISCLOSURE toggle
	// (spec §6); false suppresses AI_IDENTITY_DISCLOSURE regardless of
	// archetype or per-character policy. Defaults to true via New.
	DisclosureEnabled bool

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(store relational.Store) *Integrator {
	return &Integrator{Store: store, cache: make(map[string]cacheEntry), DisclosureEnabled: true}
}

func (in *Integrator) definition(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	in.mu.Lock()
	entry, ok := in.cache[characterID]
	in.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.def, nil
	}

	def, err := in.Store.GetCharacterDefinition(ctx, characterID)
	if err != nil {
		return domain.CharacterDefinition{}, err
	}

	in.mu.Lock()
	in.cache[characterID] = cacheEntry{def: def, expiresAt: time.Now().Add(cacheTTL)}
	in.mu.Unlock()
	return def, nil
}

// Integrate produces the character-driven prompt components for this turn.
func (in *Integrator) Integrate(ctx context.Context, characterID, userQuery string, bundle *domain.IntelligenceBundle) ([]promptbuilder.Component, error) {
	def, err := in.definition(ctx, characterID)
	if err != nil {
		return nil, fmt.Errorf("character: load definition %s: %w", characterID, err)
	}

	components := []promptbuilder.Component{
		identityComponent(def),
		voiceComponent(def, bundle),
		emotionalStateComponent(def, bundle),
	}

	if guidance := styleGuidance(def, bundle); guidance != "" {
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindStyleGuidance, Priority: 40, Content: guidance,
			TokenEstimate: estimateTokens(guidance),
		})
	}

	if disclosure := in.aiDisclosure(def, userQuery); disclosure != "" {
		components = append(components, promptbuilder.Component{
			Kind: promptbuilder.KindAIIdentityDisclosure, Priority: 5, Required: true,
			Content: disclosure, TokenEstimate: estimateTokens(disclosure),
		})
	}

	return components, nil
}

func identityComponent(def domain.CharacterDefinition) promptbuilder.Component {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s.", def.Name)
	if def.Backstory != "" {
		sb.WriteString(" ")
		sb.WriteString(def.Backstory)
	}
	content := sb.String()
	return promptbuilder.Component{
		Kind: promptbuilder.KindCharacterIdentity, Priority: 10, Required: true,
		Content: content, TokenEstimate: estimateTokens(content),
	}
}

func voiceComponent(def domain.CharacterDefinition, bundle *domain.IntelligenceBundle) promptbuilder.Component {
	var parts []string
	if len(def.PersonalityTraits) > 0 {
		parts = append(parts, "Personality: "+strings.Join(def.PersonalityTraits, ", ")+".")
	}
	if def.CommunicationStyle != "" {
		parts = append(parts, "Speak in this style: "+def.CommunicationStyle+".")
	}
	if !AllowsEmoji(def) {
		parts = append(parts, "Do not use emoji.")
	}
	content := strings.Join(parts, " ")
	return promptbuilder.Component{
		Kind: promptbuilder.KindCharacterVoice, Priority: 20, Content: content,
		TokenEstimate: estimateTokens(content),
	}
}

// AllowsEmoji reports whether def's declared EmojiPolicy permits emoji at
// all, independent of phase 7.6's global ENABLE_EMOJI_DECORATION toggle.
func AllowsEmoji(def domain.CharacterDefinition) bool {
	return def.EmojiPolicy != "never" && def.EmojiPolicy != "disabled"
}

// EmojiAllowed loads characterID's definition (through the same cache
// Integrate uses) and reports whether its policy permits emoji decoration.
// A lookup failure fails open (true), matching the rest of the package's
// degrade-not-abort posture.
func (in *Integrator) EmojiAllowed(ctx context.Context, characterID string) bool {
	def, err := in.definition(ctx, characterID)
	if err != nil {
		return true
	}
	return AllowsEmoji(def)
}

func emotionalStateComponent(def domain.CharacterDefinition, bundle *domain.IntelligenceBundle) promptbuilder.Component {
	if bundle.BotEmotionalTrajectory.CurrentEmotion == "" {
		return promptbuilder.Component{}
	}
	traj := bundle.BotEmotionalTrajectory
	content := fmt.Sprintf("Your current emotional state is %s (intensity %.2f, trending %s).",
		traj.CurrentEmotion, traj.Intensity, traj.Direction)
	return promptbuilder.Component{
		Kind: promptbuilder.KindCharacterEmotionalState, Priority: 30, Content: content,
		TokenEstimate: estimateTokens(content),
	}
}

// styleGuidance applies the dynamic adaptation rules from spec §4.C10: trust,
// confidence, and user-emotion intensity each can add a guidance clause. The
// intensity check reads through effectiveIntensity so a resilient character
// is not rattled by a noisy low-confidence reading.
func styleGuidance(def domain.CharacterDefinition, bundle *domain.IntelligenceBundle) string {
	var clauses []string

	if bundle.RelationshipState.Trust > 0.8 {
		clauses = append(clauses, "You share a close, trusted bond with this user; you may speak with more intimacy and warmth than with a stranger.")
	}
	if bundle.Confidence.Overall < 0.6 {
		clauses = append(clauses, "Your read on this user's context is uncertain; favor tentative, clarifying language over firm claims.")
	}
	if emotion := bundle.UserEmotion; emotion != nil {
		neutralLowConfidence := emotion.PrimaryEmotion == "neutral" && emotion.Confidence < 0.3
		if effectiveIntensity(def, *emotion) > 0.7 && !neutralLowConfidence {
			clauses = append(clauses, "The user's message carries strong emotional intensity; respond with heightened empathy and care.")
		}
	}
	if def.Goal != "" {
		clauses = append(clauses, "Without announcing it, let your responses this turn subtly work toward: "+def.Goal+".")
	}

	return strings.Join(clauses, " ")
}

// effectiveIntensity damps the raw emotional_intensity signal by the
// character's resilience before it reaches the empathy-guidance rule: a
// higher-resilience character needs a stronger signal to register as
// "strong intensity." Resilience 0 (the unset default) applies no damping,
// matching a character definition that never declared one.
func effectiveIntensity(def domain.CharacterDefinition, emotion domain.EmotionRecord) float64 {
	if def.Resilience <= 0 {
		return emotion.EmotionalIntensity
	}
	return emotion.EmotionalIntensity * (1 - 0.5*def.Resilience)
}

// aiDisclosure returns the disclosure component's content, or "" if the
// global toggle, the character's archetype, or its declared policy excludes
// it.
func (in *Integrator) aiDisclosure(def domain.CharacterDefinition, userQuery string) string {
	if !in.DisclosureEnabled {
		return ""
	}
	if def.Archetype != domain.ArchetypeRealWorld {
		return ""
	}
	if def.AIIdentityDisclosure != nil && !*def.AIIdentityDisclosure {
		return ""
	}
	if !aiIdentityPattern.MatchString(userQuery) {
		return ""
	}
	return "If asked directly whether you are an AI, answer honestly: yes, you are an AI character."
}

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

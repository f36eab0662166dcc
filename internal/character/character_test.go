package character

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

func TestEffectiveIntensity_zeroResilienceIsUndamped(t *testing.T) {
	def := domain.CharacterDefinition{Resilience: 0}
	emotion := domain.EmotionRecord{EmotionalIntensity: 0.8}
	assert.Equal(t, 0.8, effectiveIntensity(def, emotion))
}

func TestEffectiveIntensity_highResilienceDampensIntensity(t *testing.T) {
	def := domain.CharacterDefinition{Resilience: 1.0}
	emotion := domain.EmotionRecord{EmotionalIntensity: 0.8}
	assert.InDelta(t, 0.4, effectiveIntensity(def, emotion), 1e-9)
}

func TestStyleGuidance_resilientCharacterSuppressesEmpathyClause(t *testing.T) {
	bundle := &domain.IntelligenceBundle{
		Confidence:  domain.Confidence{Overall: 1.0},
		UserEmotion: &domain.EmotionRecord{PrimaryEmotion: "anger", Confidence: 0.9, EmotionalIntensity: 0.8},
	}

	fragile := domain.CharacterDefinition{}
	assert.Contains(t, styleGuidance(fragile, bundle), "heightened empathy")

	resilient := domain.CharacterDefinition{Resilience: 1.0}
	assert.NotContains(t, styleGuidance(resilient, bundle), "heightened empathy")
}

func TestStyleGuidance_goalAddsSubtextClauseWithoutAnnouncingIt(t *testing.T) {
	def := domain.CharacterDefinition{Goal: "encourage the user to take a walk outside"}
	bundle := &domain.IntelligenceBundle{Confidence: domain.Confidence{Overall: 1.0}}

	guidance := styleGuidance(def, bundle)
	assert.Contains(t, guidance, "encourage the user to take a walk outside")
	assert.Contains(t, guidance, "Without announcing it")
}

func TestStyleGuidance_noGoalOmitsSubtextClause(t *testing.T) {
	def := domain.CharacterDefinition{}
	bundle := &domain.IntelligenceBundle{Confidence: domain.Confidence{Overall: 1.0}}
	assert.Empty(t, styleGuidance(def, bundle))
}

func TestAIDisclosure_globalToggleOffSuppressesRegardlessOfArchetype(t *testing.T) {
	in := &Integrator{DisclosureEnabled: false}
	def := domain.CharacterDefinition{Archetype: domain.ArchetypeRealWorld}
	assert.Empty(t, in.aiDisclosure(def, "are you real or an AI?"))
}

func TestAIDisclosure_enabledRealWorldArchetypeAnswersDirectQuestion(t *testing.T) {
	in := &Integrator{DisclosureEnabled: true}
	def := domain.CharacterDefinition{Archetype: domain.ArchetypeRealWorld}
	assert.NotEmpty(t, in.aiDisclosure(def, "are you an AI?"))
}

func TestAIDisclosure_fantasyArchetypeNeverDiscloses(t *testing.T) {
	in := &Integrator{DisclosureEnabled: true}
	def := domain.CharacterDefinition{Archetype: domain.ArchetypeFantasy}
	assert.Empty(t, in.aiDisclosure(def, "are you an AI?"))
}

func TestAIDisclosure_perCharacterPolicyOverridesToFalse(t *testing.T) {
	in := &Integrator{DisclosureEnabled: true}
	no := false
	def := domain.CharacterDefinition{Archetype: domain.ArchetypeRealWorld, AIIdentityDisclosure: &no}
	assert.Empty(t, in.aiDisclosure(def, "are you an AI?"))
}

func TestNew_defaultsDisclosureEnabledTrue(t *testing.T) {
	in := New(nil)
	assert.True(t, in.DisclosureEnabled)
}

package relationship

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
)

const (
	testUserID      = "user-1"
	testCharacterID = "char-1"
)

func newTestEngine() (*Engine, *relational.FakeStore, *timeseries.FakeStore) {
	rel := relational.NewFakeStore()
	ts := timeseries.NewFakeStore()
	return New(rel, ts), rel, ts
}

func TestUpdate_aboveAverageQualityIncreasesScores(t *testing.T) {
	e, _, _ := newTestEngine()
	userEmotion := domain.EmotionRecord{SentimentScore: 0.8, EmotionalIntensity: 0.7, IsMultiEmotion: false}
	botEmotion := domain.EmotionRecord{SentimentScore: 0.8}
	confidence := domain.Confidence{Overall: 0.9}

	updated, err := e.Update(context.Background(), testUserID, testCharacterID, userEmotion, botEmotion, confidence, "That's wonderful to hear, tell me more about it?")
	require.NoError(t, err)

	assert.Greater(t, updated.Trust, 0.5)
	assert.Greater(t, updated.Affection, 0.5)
	assert.Greater(t, updated.Attunement, 0.5)
}

func TestUpdate_belowAverageQualityDecreasesScores(t *testing.T) {
	e, _, _ := newTestEngine()
	// Opposite sentiments (poor alignment), low confidence, a one-word reply
	// and a low-intensity user turn: every quality_signal input lands at or
	// below the 0.5 midpoint.
	userEmotion := domain.EmotionRecord{SentimentScore: 0.9, EmotionalIntensity: 0.1}
	botEmotion := domain.EmotionRecord{SentimentScore: -0.9}
	confidence := domain.Confidence{Overall: 0.1}

	updated, err := e.Update(context.Background(), testUserID, testCharacterID, userEmotion, botEmotion, confidence, "No.")

	require.NoError(t, err)
	assert.Less(t, updated.Trust, 0.5)
	assert.Less(t, updated.Attunement, 0.5)
}

func TestUpdate_neutralSignalLeavesScoresUnchanged(t *testing.T) {
	e, _, _ := newTestEngine()
	// Picked so confidence.Overall, emotion_alignment, response_length_fit,
	// and engagement_heuristic all land exactly at 0.5, giving a
	// quality_signal of exactly 0.5 and a zero centered delta.
	userEmotion := domain.EmotionRecord{SentimentScore: 1, EmotionalIntensity: 0.1}
	botEmotion := domain.EmotionRecord{SentimentScore: 0}
	confidence := domain.Confidence{Overall: 0.5}
	fourteenWords := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen"

	updated, err := e.Update(context.Background(), testUserID, testCharacterID, userEmotion, botEmotion, confidence, fourteenWords)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, updated.Trust, 1e-9)
	assert.InDelta(t, 0.5, updated.Attunement, 1e-9)
}

func TestUpdate_persistsAndEchoesMetricPoint(t *testing.T) {
	e, rel, ts := newTestEngine()
	userEmotion := domain.EmotionRecord{SentimentScore: 0.5, EmotionalIntensity: 0.6}
	botEmotion := domain.EmotionRecord{SentimentScore: 0.4}
	confidence := domain.Confidence{Overall: 0.8}

	_, err := e.Update(context.Background(), testUserID, testCharacterID, userEmotion, botEmotion, confidence, "Glad things are going well for you!")
	require.NoError(t, err)

	stored, err := rel.GetRelationshipScore(context.Background(), testUserID, testCharacterID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.InteractionCount)

	var sawRelationship bool
	for _, m := range ts.All() {
		if m.Measurement == domain.MeasurementRelationship {
			sawRelationship = true
			for _, field := range []string{"trust", "affection", "attunement", "interaction_count"} {
				assert.Contains(t, m.Fields, field)
			}
		}
	}
	assert.True(t, sawRelationship)
}

func TestQualitySignal_perfectAlignmentAndConfidenceApproachesOne(t *testing.T) {
	confidence := domain.Confidence{Overall: 1.0}
	userEmotion := domain.EmotionRecord{SentimentScore: 0.5, EmotionalIntensity: 0.9}
	botEmotion := domain.EmotionRecord{SentimentScore: 0.5}

	response := "That sounds like a wonderful plan for the weekend, I'm really glad you're looking forward to it, what time do you think you'll head out?"
	signal := QualitySignal(confidence, userEmotion, botEmotion, response)
	assert.Greater(t, signal, 0.9)
}

func TestResponseLengthFit_veryShortReplyScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, responseLengthFit("Ok."))
}

func TestResponseLengthFit_idealLengthScoresOne(t *testing.T) {
	words := ""
	for i := 0; i < 50; i++ {
		words += "word "
	}
	assert.Equal(t, 1.0, responseLengthFit(words))
}

func TestQualityComponents_coversAllFrozenFields(t *testing.T) {
	confidence := domain.Confidence{Overall: 0.7, Context: 0.6, Emotional: 0.8}
	userEmotion := domain.EmotionRecord{SentimentScore: 0.5, EmotionalIntensity: 0.6}
	botEmotion := domain.EmotionRecord{SentimentScore: 0.4}

	components := QualityComponents(confidence, userEmotion, botEmotion, "That's great, what happened next?")
	for _, field := range []string{"engagement_score", "satisfaction_score", "natural_flow_score", "emotional_resonance", "topic_relevance"} {
		v, ok := components[field]
		assert.True(t, ok, "missing field %q", field)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, confidence.Context, components["topic_relevance"])
}

func TestEngagementHeuristic_questionAndIntensityBothBoostScore(t *testing.T) {
	plain := engagementHeuristic(domain.EmotionRecord{EmotionalIntensity: 0.1}, "Okay.")
	engaged := engagementHeuristic(domain.EmotionRecord{EmotionalIntensity: 0.9}, "That's great, what happened next?")
	assert.Greater(t, engaged, plain)
}

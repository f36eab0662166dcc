package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"
)

const (
	testUserID      = "user-1"
	testCharacterID = "char-1"
)

func testTurn(content string) domain.Turn {
	return domain.Turn{
		UserID: testUserID, CharacterID: testCharacterID, Platform: "test",
		ChannelType: domain.ChannelDirect, Content: content, ReceivedAt: time.Now().UTC(),
	}
}

func testBundle() *domain.IntelligenceBundle {
	b := domain.NewIntelligenceBundle()
	b.UserEmotion = &domain.EmotionRecord{PrimaryEmotion: "joy", Confidence: 0.9, EmotionalIntensity: 0.7}
	b.DetectedTopics = []string{"weekend_plans"}
	b.Confidence = domain.Confidence{Overall: 0.9, Context: 0.8, Emotional: 0.9}
	return b
}

func newCoordinator(llmClient llm.LLMClient) (*Coordinator, *vectorstore.FakeStore, *relational.FakeStore, *timeseries.FakeStore) {
	vs := vectorstore.NewFakeStore()
	rel := relational.NewFakeStore()
	ts := timeseries.NewFakeStore()
	// The vector store rejects all-zero vectors, so the embedder returns a
	// non-zero one.
	embedder := &llm.MockEmbedder{}
	embedder.Vector[0] = 1
	c := New(vs, rel, ts, llmClient, embedder, "extraction-model", "test")
	c.Retriever = retriever.New(vs, embedder)
	return c, vs, rel, ts
}

func TestCommit_writesVectorAndMetrics(t *testing.T) {
	c, vs, _, ts := newCoordinator(&llm.MockClient{Response: "[]"})
	turn := testTurn("I'm hiking this weekend")
	bundle := testBundle()

	report := c.Commit(context.Background(), turn, bundle, "Sounds fun!", bundle.Confidence)
	assert.NoError(t, report.VectorWriteErr)

	collection := vectorstore.CollectionName("test", testCharacterID)
	points, err := vs.Scroll(context.Background(), collection, vectorstore.Filters{UserID: testUserID}, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, domain.MemoryKindConversation, points[0].Payload.Kind)

	metrics := ts.All()
	var sawConfidence bool
	for _, m := range metrics {
		if m.Measurement == domain.MeasurementConfidence {
			sawConfidence = true
			for _, field := range []string{"user_fact_confidence", "relationship_confidence", "emotional_confidence", "overall_confidence"} {
				_, ok := m.Fields[field]
				assert.True(t, ok, "confidence point missing frozen field %q", field)
			}
		}
	}
	assert.True(t, sawConfidence, "commit should echo a confidence metric point")
}

func TestCommit_writesQualityMetricWhenBothEmotionsPresent(t *testing.T) {
	c, _, _, ts := newCoordinator(&llm.MockClient{Response: "[]"})
	turn := testTurn("I'm hiking this weekend")
	bundle := testBundle()
	bundle.BotEmotion = &domain.EmotionRecord{PrimaryEmotion: "joy", Confidence: 0.8, EmotionalIntensity: 0.6, SentimentScore: 0.5}

	report := c.Commit(context.Background(), turn, bundle, "Sounds fun, have a great time!", bundle.Confidence)
	require.NoError(t, report.MetricErr)

	var qualityPoint *domain.MetricPoint
	for _, m := range ts.All() {
		if m.Measurement == domain.MeasurementQuality {
			p := m
			qualityPoint = &p
		}
	}
	require.NotNil(t, qualityPoint, "commit should echo a quality metric point once both emotion records are available")
	for _, field := range []string{"engagement_score", "satisfaction_score", "natural_flow_score", "emotional_resonance", "topic_relevance"} {
		v, ok := qualityPoint.Fields[field]
		assert.True(t, ok, "quality point missing frozen field %q", field)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestCommit_skipsQualityMetricWithoutBotEmotion(t *testing.T) {
	c, _, _, ts := newCoordinator(&llm.MockClient{Response: "[]"})
	turn := testTurn("Hello")
	bundle := testBundle()

	report := c.Commit(context.Background(), turn, bundle, "Hi there!", bundle.Confidence)
	require.NoError(t, report.MetricErr)

	for _, m := range ts.All() {
		assert.NotEqual(t, domain.MeasurementQuality, m.Measurement, "no bot emotion means no quality point this turn")
	}
}

func TestCommit_factExtractionUpsertsParsedFacts(t *testing.T) {
	llmClient := &llm.MockClient{Response: `[{"entity_name":"Sam","entity_type":"person","relationship_type":"friend","confidence":0.8}]`}
	c, _, rel, _ := newCoordinator(llmClient)
	turn := testTurn("My friend Sam is visiting")
	bundle := testBundle()

	report := c.Commit(context.Background(), turn, bundle, "That's nice!", bundle.Confidence)
	assert.NoError(t, report.FactErr)
	assert.Equal(t, 1, report.FactsExtracted)

	facts, err := rel.QueryFacts(context.Background(), relational.FactQuery{UserID: testUserID, CharacterID: testCharacterID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Sam", facts[0].EntityName)
}

func TestCommit_malformedFactResponseYieldsZeroFactsNotCommitFailure(t *testing.T) {
	c, vs, _, _ := newCoordinator(&llm.MockClient{Response: "not json at all"})
	turn := testTurn("Hello")
	bundle := testBundle()

	report := c.Commit(context.Background(), turn, bundle, "Hi!", bundle.Confidence)
	assert.Error(t, report.FactErr)
	assert.Equal(t, 0, report.FactsExtracted)
	assert.NoError(t, report.VectorWriteErr, "a fact-extraction failure must not affect the vector write")

	collection := vectorstore.CollectionName("test", testCharacterID)
	points, err := vs.Scroll(context.Background(), collection, vectorstore.Filters{UserID: testUserID}, 10)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestWriteEpisodic_belowConfidenceThresholdSkipsWrite(t *testing.T) {
	c, vs, _, _ := newCoordinator(&llm.MockClient{Response: "[]"})
	turn := testTurn("meh")
	bundle := testBundle()
	bundle.Confidence.Overall = 0.5

	err := c.WriteEpisodic(context.Background(), turn, bundle, "ok")
	require.NoError(t, err)

	collection := vectorstore.CollectionName("test", testCharacterID)
	points, err := vs.Scroll(context.Background(), collection, vectorstore.Filters{UserID: testUserID}, 10)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestWriteEpisodic_idempotentOnReplayOfSameTurn(t *testing.T) {
	c, vs, _, _ := newCoordinator(&llm.MockClient{Response: "[]"})
	turn := testTurn("I got the promotion today")
	bundle := testBundle()
	bundle.Confidence.Overall = 0.9

	require.NoError(t, c.WriteEpisodic(context.Background(), turn, bundle, "Congratulations!"))
	require.NoError(t, c.WriteEpisodic(context.Background(), turn, bundle, "Congratulations!"))

	collection := vectorstore.CollectionName("test", testCharacterID)
	points, err := vs.Scroll(context.Background(), collection, vectorstore.Filters{UserID: testUserID}, 10)
	require.NoError(t, err)
	assert.Len(t, points, 1, "replaying the identical turn must overwrite, not duplicate, the episodic point")
}

func TestBuildVectors_usesFrozenPrefixConventions(t *testing.T) {
	c, _, _, _ := newCoordinator(&llm.MockClient{})
	turn := testTurn("hi")
	bundle := testBundle()

	vectors, err := c.buildVectors(context.Background(), turn, bundle)
	require.NoError(t, err)
	assert.NotEqual(t, [384]float32{}, vectors.Content)
	assert.NotEqual(t, [384]float32{}, vectors.Emotion)
	assert.NotEqual(t, [384]float32{}, vectors.Semantic)
}

func TestParseExtractedFacts_extractsArrayEvenWithSurroundingProse(t *testing.T) {
	facts, err := parseExtractedFacts("Here is the result:\n[{\"entity_name\":\"Mara\",\"entity_type\":\"person\",\"relationship_type\":\"sibling\",\"confidence\":0.6}]\nDone.")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Mara", facts[0].EntityName)
}

func TestParseExtractedFacts_noArrayIsAnError(t *testing.T) {
	_, err := parseExtractedFacts("no array here")
	assert.Error(t, err)
}

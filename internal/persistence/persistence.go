// Package persistence implements C14: the phase-9 fan-out write that
// commits a completed turn to the vector store, extracts and upserts facts
// into the relational store, and echoes metrics into the time-series store.
// The vector write is the only one the caller must wait on for correctness;
// fact extraction and metric writes are best-effort within their own
// sub-deadlines.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/relationship"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"
)

const (
	factExtractionBudget = 5 * time.Second
	metricWriteBudget    = 2 * time.Second
)

// Coordinator is C14.
type Coordinator struct {
	VectorStore vectorstore.Store
	Relational  relational.Store
	TimeSeries  timeseries.Store
	LLM         llm.LLMClient
	Embedder    llm.Embedder

	// Retriever is optional; when set, phase 9b's contradiction detection
	// runs against it. A nil Retriever simply skips the check.
	Retriever *retriever.Retriever

	ExtractionModel  string
	CollectionPrefix string
}

func New(vs vectorstore.Store, rel relational.Store, ts timeseries.Store, client llm.LLMClient, embedder llm.Embedder, extractionModel, collectionPrefix string) *Coordinator {
	return &Coordinator{
		VectorStore: vs, Relational: rel, TimeSeries: ts, LLM: client, Embedder: embedder,
		ExtractionModel: extractionModel, CollectionPrefix: collectionPrefix,
	}
}

// Report summarizes what succeeded; the orchestrator logs degraded paths
// from it but never fails the turn over persistence's best-effort halves.
type Report struct {
	VectorWriteErr error
	FactsExtracted int
	FactErr        error
	MetricErr      error
}

// Commit runs the three writes concurrently. VectorWriteErr is the only
// field callers should treat as a turn-level failure signal.
func (c *Coordinator) Commit(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, responseText string, confidence domain.Confidence) Report {
	var report Report
	g, gctx := errgroup.WithContext(ctx)

	// The conversation memory's ID is generated up front so phase 9b's
	// contradiction check can reference it even though the write that
	// creates the point runs concurrently; per spec §5, phase-9 sub-writes
	// have no inter-store ordering guarantee.
	memoryID := uuid.New()

	g.Go(func() error {
		report.VectorWriteErr = c.writeMemory(gctx, memoryID, turn, bundle, responseText)
		return nil
	})
	g.Go(func() error {
		n, err := c.extractAndUpsertFacts(gctx, memoryID, turn, bundle)
		report.FactsExtracted = n
		report.FactErr = err
		return nil
	})
	g.Go(func() error {
		report.MetricErr = c.writeMetrics(gctx, turn, bundle, responseText, confidence)
		return nil
	})

	_ = g.Wait()
	return report
}

func (c *Coordinator) writeMemory(ctx context.Context, memoryID uuid.UUID, turn domain.Turn, bundle *domain.IntelligenceBundle, responseText string) error {
	vectors, err := c.buildVectors(ctx, turn, bundle)
	if err != nil {
		return fmt.Errorf("persistence: build vectors: %w", err)
	}

	memory := domain.Memory{
		ID:          memoryID,
		UserID:      turn.UserID,
		CharacterID: turn.CharacterID,
		Kind:        domain.MemoryKindConversation,
		Content:     turn.Content,
		BotResponse: responseText,
		Vectors:     vectors,
		Timestamp:   turn.ReceivedAt,
	}
	if bundle.UserEmotion != nil {
		memory.UserEmotion = *bundle.UserEmotion
	}
	memory.BotEmotion = bundle.BotEmotion

	collection := vectorstore.CollectionName(c.CollectionPrefix, turn.CharacterID)
	if err := c.VectorStore.UpsertPoint(ctx, collection, memory.ID, vectors, memory); err != nil {
		return fmt.Errorf("persistence: upsert point: %w", err)
	}
	return nil
}

// buildVectors applies the frozen per-vector prefix conventions: the content
// vector is unprefixed, the emotion vector is prefixed by the user's primary
// emotion, the semantic vector by the first detected topic (or a generic
// fallback key when none was detected).
func (c *Coordinator) buildVectors(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle) (domain.NamedVectors, error) {
	var vectors domain.NamedVectors

	content, err := c.Embedder.Embed(ctx, turn.Content)
	if err != nil {
		return vectors, err
	}
	vectors.Content = content

	primary := "neutral"
	if bundle.UserEmotion != nil && bundle.UserEmotion.PrimaryEmotion != "" {
		primary = bundle.UserEmotion.PrimaryEmotion
	}
	emotion, err := c.Embedder.Embed(ctx, "emotion "+primary+": "+turn.Content)
	if err != nil {
		return vectors, err
	}
	vectors.Emotion = emotion

	semanticKey := "general"
	if len(bundle.DetectedTopics) > 0 {
		semanticKey = bundle.DetectedTopics[0]
	}
	semantic, err := c.Embedder.Embed(ctx, "concept "+semanticKey+": "+turn.Content)
	if err != nil {
		return vectors, err
	}
	vectors.Semantic = semantic

	return vectors, nil
}

type extractedFact struct {
	EntityName       string  `json:"entity_name"`
	EntityType       string  `json:"entity_type"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// extractAndUpsertFacts asks the LLM to pull structured facts out of the
// turn, bounded by factExtractionBudget; on timeout or a malformed response
// it returns zero facts rather than failing the commit.
func (c *Coordinator) extractAndUpsertFacts(ctx context.Context, memoryID uuid.UUID, turn domain.Turn, bundle *domain.IntelligenceBundle) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, factExtractionBudget)
	defer cancel()

	prompt := "Extract factual entities the user mentioned (name, type, relationship, confidence 0-1) as a JSON array. Message: " + turn.Content
	result, err := c.LLM.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, c.ExtractionModel, 0.0, 512)
	if err != nil {
		return 0, fmt.Errorf("persistence: fact extraction: %w", err)
	}

	facts, err := parseExtractedFacts(result.Text)
	if err != nil {
		return 0, fmt.Errorf("persistence: parse facts: %w", err)
	}

	now := turn.ReceivedAt
	upserted := 0
	for _, f := range facts {
		if f.EntityName == "" {
			continue
		}
		err := c.Relational.UpsertFact(ctx, domain.Fact{
			UserID: turn.UserID, CharacterID: turn.CharacterID,
			EntityName: f.EntityName, EntityType: f.EntityType,
			RelationshipType: f.RelationshipType, Confidence: f.Confidence,
			LastMentioned: now, TemporalWeight: 1.0,
		})
		if err != nil {
			continue
		}
		upserted++

		// Phase 9b: surface prior memories conflicting with this entity via
		// C4.Recommend. Contradictions are logged by the caller, never block
		// the write, and both memories are kept per the spec's open-question
		// resolution (no deprecation flag).
		if c.Retriever != nil {
			collection := vectorstore.CollectionName(c.CollectionPrefix, turn.CharacterID)
			_, _ = c.Retriever.DetectContradiction(ctx, collection, memoryID, f.EntityName)
		}
	}
	return upserted, nil
}

func parseExtractedFacts(text string) ([]extractedFact, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found")
	}
	var facts []extractedFact
	if err := json.Unmarshal([]byte(text[start:end+1]), &facts); err != nil {
		return nil, err
	}
	return facts, nil
}

// WriteEpisodic implements phase 10's learning side-effect: a
// content-addressed point distinct from the phase-9a conversation memory,
// keyed deterministically so replaying the same turn is idempotent rather
// than accumulating duplicate episodic points. Only turns whose overall
// confidence clears the threshold are considered worth remembering this way;
// failures are isolated from the caller, matching the phase's failure policy.
func (c *Coordinator) WriteEpisodic(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, responseText string) error {
	const episodicConfidenceThreshold = 0.75
	if bundle.Confidence.Overall < episodicConfidenceThreshold {
		return nil
	}

	vectors, err := c.buildVectors(ctx, turn, bundle)
	if err != nil {
		return fmt.Errorf("persistence: episodic build vectors: %w", err)
	}

	memory := domain.Memory{
		ID:          episodicID(turn),
		UserID:      turn.UserID,
		CharacterID: turn.CharacterID,
		Kind:        domain.MemoryKindEpisodic,
		Content:     turn.Content,
		BotResponse: responseText,
		Vectors:     vectors,
		Timestamp:   turn.ReceivedAt,
	}
	if bundle.UserEmotion != nil {
		memory.UserEmotion = *bundle.UserEmotion
	}
	memory.BotEmotion = bundle.BotEmotion

	collection := vectorstore.CollectionName(c.CollectionPrefix, turn.CharacterID)
	if err := c.VectorStore.UpsertPoint(ctx, collection, memory.ID, vectors, memory); err != nil {
		return fmt.Errorf("persistence: episodic upsert: %w", err)
	}
	return nil
}

// episodicID derives a deterministic point ID from the turn's identity so
// replaying the same turn twice overwrites the same episodic point instead
// of creating a duplicate.
func episodicID(turn domain.Turn) uuid.UUID {
	key := turn.UserID + "|" + turn.CharacterID + "|" + turn.Content + "|" + turn.ReceivedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
}

func (c *Coordinator) writeMetrics(ctx context.Context, turn domain.Turn, bundle *domain.IntelligenceBundle, responseText string, confidence domain.Confidence) error {
	ctx, cancel := context.WithTimeout(ctx, metricWriteBudget)
	defer cancel()

	tags := map[string]string{"user_id": turn.UserID, "character_id": turn.CharacterID}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if bundle.UserEmotion != nil {
		record(c.TimeSeries.Write(ctx, domain.MetricPoint{
			Measurement: domain.MeasurementUserEmotion,
			Tags:        withPrimary(tags, bundle.UserEmotion.PrimaryEmotion),
			Fields:      map[string]float64{"intensity": bundle.UserEmotion.EmotionalIntensity, "confidence": bundle.UserEmotion.Confidence},
			Timestamp:   turn.ReceivedAt,
		}))
	}
	if bundle.BotEmotion != nil {
		record(c.TimeSeries.Write(ctx, domain.MetricPoint{
			Measurement: domain.MeasurementBotEmotion,
			Tags:        withPrimary(tags, bundle.BotEmotion.PrimaryEmotion),
			Fields:      map[string]float64{"intensity": bundle.BotEmotion.EmotionalIntensity, "confidence": bundle.BotEmotion.Confidence},
			Timestamp:   turn.ReceivedAt,
		}))
	}
	// Field names here are frozen by spec §6: user_fact_confidence stands in
	// for how well the retrieved context (facts + memories) supported this
	// turn, relationship_confidence for how well-established the
	// relationship itself is, mapped from the bundle's context score and the
	// read relationship state respectively since the spec defines no formula
	// of its own for either.
	record(c.TimeSeries.Write(ctx, domain.MetricPoint{
		Measurement: domain.MeasurementConfidence,
		Tags:        tags,
		Fields: map[string]float64{
			"user_fact_confidence":    confidence.Context,
			"relationship_confidence": relationshipConfidence(bundle),
			"emotional_confidence":    confidence.Emotional,
			"overall_confidence":      confidence.Overall,
		},
		Timestamp: turn.ReceivedAt,
	}))

	// The quality components need both emotion records; a failed bot emotion
	// analysis (phase 7.5) skips this point rather than scoring against a
	// fabricated botEmotion, same policy as the bot_emotion point above.
	if bundle.UserEmotion != nil && bundle.BotEmotion != nil {
		fields := relationship.QualityComponents(confidence, *bundle.UserEmotion, *bundle.BotEmotion, responseText)
		record(c.TimeSeries.Write(ctx, domain.MetricPoint{
			Measurement: domain.MeasurementQuality,
			Tags:        tags,
			Fields:      fields,
			Timestamp:   turn.ReceivedAt,
		}))
	}

	return firstErr
}

// relationshipConfidence derives the confidence measurement's
// relationship_confidence field from how deep the read relationship state
// is: an established trust/affection/attunement average reads as more
// confidence in the bot's model of this user than a fresh, all-neutral one.
func relationshipConfidence(bundle *domain.IntelligenceBundle) float64 {
	s := bundle.RelationshipState
	return (s.Trust + s.Affection + s.Attunement) / 3
}

func withPrimary(tags map[string]string, primary string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out["primary_emotion"] = primary
	return out
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType distinguishes direct messages from group channels.
type ChannelType string

const (
	ChannelDirect ChannelType = "direct"
	ChannelGroup  ChannelType = "group"
)

// Archetype governs AI-identity disclosure behavior in the character integrator.
type Archetype string

const (
	ArchetypeRealWorld   Archetype = "real_world"
	ArchetypeFantasy     Archetype = "fantasy"
	ArchetypeNarrativeAI Archetype = "narrative_ai"
)

// Attachment is an opaque reference to a non-text artifact on a Turn.
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
}

// Turn is the immutable unit of pipeline processing.
type Turn struct {
	UserID      string       `json:"user_id"`
	CharacterID string       `json:"character_id"`
	Platform    string       `json:"platform"`
	ChannelType ChannelType  `json:"channel_type"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// EmotionRecord is the fixed-schema output of the external emotion analyzer (C2).
// Exactly the eleven fields in spec §6; carried by reference through the bundle
// so the analyzer is never re-invoked by downstream consumers.
type EmotionRecord struct {
	PrimaryEmotion      string             `json:"primary_emotion"`
	Confidence          float64            `json:"confidence"`
	EmotionalIntensity  float64            `json:"emotional_intensity"`
	IsMultiEmotion      bool               `json:"is_multi_emotion"`
	SecondaryEmotions   []string           `json:"secondary_emotions,omitempty"`
	EmotionVariance      float64            `json:"emotion_variance"`
	EmotionClarity       float64            `json:"emotion_clarity"`
	SentimentScore       float64            `json:"sentiment_score"`
	MixedEmotionCount    int                `json:"mixed_emotion_count"`
	EmotionalStability   float64            `json:"emotional_stability"`
	EmotionDistribution  map[string]float64 `json:"emotion_distribution,omitempty"`
}

// IsPositive reports whether the sentiment score leans positive, used by the
// relationship engine's affection delta.
func (e EmotionRecord) IsPositive() bool {
	return e.SentimentScore > 0
}

// UserFact is one (entity, entity_type, relationship, confidence, last_mentioned,
// temporal_weight) tuple as retrieved for the intelligence bundle.
type UserFact struct {
	EntityName      string    `json:"entity_name"`
	EntityType      string    `json:"entity_type"`
	RelationshipType string   `json:"relationship_type"`
	Confidence      float64   `json:"confidence"`
	LastMentioned   time.Time `json:"last_mentioned"`
	TemporalWeight  float64   `json:"temporal_weight"`
}

// EffectiveWeight is confidence x temporal_weight, the retrieval ordering key.
func (f UserFact) EffectiveWeight() float64 {
	return f.Confidence * f.TemporalWeight
}

// RelationshipState is the read projection of a RelationshipScore row plus a
// derived human label, as carried in the intelligence bundle.
type RelationshipState struct {
	Trust            float64 `json:"trust"`
	Affection        float64 `json:"affection"`
	Attunement       float64 `json:"attunement"`
	InteractionCount int     `json:"interaction_count"`
	DepthLabel       string  `json:"depth_label"`
}

// Confidence bundles the three confidence signals used across C9/C10.
type Confidence struct {
	Overall   float64 `json:"overall"`
	Context   float64 `json:"context"`
	Emotional float64 `json:"emotional"`
}

// TrajectoryDirection labels the slope of the bot's recent intensity series.
type TrajectoryDirection string

const (
	TrajectoryIntensifying TrajectoryDirection = "intensifying"
	TrajectoryCalming      TrajectoryDirection = "calming"
	TrajectoryStable       TrajectoryDirection = "stable"
)

// EmotionalTrajectory is C12's output.
type EmotionalTrajectory struct {
	CurrentEmotion string               `json:"current_emotion"`
	Intensity      float64              `json:"intensity"`
	Direction      TrajectoryDirection  `json:"direction"`
	RecentEmotions []string             `json:"recent_emotions,omitempty"`
}

// SecurityVerdict records the outcome of phase 1 validation.
type SecurityVerdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// IntelligenceBundle is the ephemeral per-turn working state accumulated across
// phases 1-11 and discarded at phase 12. It is never persisted as a unit.
type IntelligenceBundle struct {
	UserEmotion            *EmotionRecord
	BotEmotion              *EmotionRecord
	UserFacts               []UserFact
	RelationshipState       RelationshipState
	Confidence              Confidence
	BotEmotionalTrajectory  EmotionalTrajectory
	DetectedTopics          []string
	DetectedEntities        []string
	SecurityVerdict         SecurityVerdict

	// Degraded tracks which stores returned partial or empty results this turn,
	// keyed by store name ("vector", "relational", "timeseries").
	Degraded map[string]bool
}

// NewIntelligenceBundle returns a zero-valued bundle ready for phase 0.
func NewIntelligenceBundle() *IntelligenceBundle {
	return &IntelligenceBundle{Degraded: make(map[string]bool)}
}

// MarkDegraded flags a store as having returned incomplete data this turn.
func (b *IntelligenceBundle) MarkDegraded(store string) {
	if b.Degraded == nil {
		b.Degraded = make(map[string]bool)
	}
	b.Degraded[store] = true
}

// NamedVectors holds the three frozen 384-dim named vectors for a Memory point.
// The schema (content/emotion/semantic) must be preserved bit-exactly; changing
// the prefix conventions invalidates all prior data.
type NamedVectors struct {
	Content [384]float32
	Emotion [384]float32
	Semantic [384]float32
}

// MemoryKind distinguishes conversation turns from other point kinds written at
// phase 10 (episodic/content-addressed learning writes).
type MemoryKind string

const (
	MemoryKindConversation MemoryKind = "conversation"
	MemoryKindEpisodic     MemoryKind = "episodic"
)

// Memory is a point persisted in the vector store (C4).
type Memory struct {
	ID          uuid.UUID    `json:"id"`
	UserID      string       `json:"user_id"`
	CharacterID string       `json:"character_id"`
	Kind        MemoryKind   `json:"kind"`
	Content     string       `json:"content"`
	BotResponse string       `json:"bot_response"`
	Vectors     NamedVectors `json:"-"`
	Timestamp   time.Time    `json:"timestamp"`
	UserEmotion EmotionRecord  `json:"user_emotion"`
	BotEmotion  *EmotionRecord `json:"bot_emotion,omitempty"`
}

// HasAllVectors enforces the "partial vectors are rejected on insert" invariant.
func (m Memory) HasAllVectors() bool {
	return anyNonZero(m.Vectors.Content[:]) && anyNonZero(m.Vectors.Emotion[:]) && anyNonZero(m.Vectors.Semantic[:])
}

func anyNonZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return true
		}
	}
	return false
}

// Fact is a persisted entity-relationship triple in the relational store (C5).
type Fact struct {
	UserID           string    `json:"user_id"`
	CharacterID      string    `json:"character_id"`
	EntityName       string    `json:"entity_name"`
	EntityType       string    `json:"entity_type"`
	RelationshipType string    `json:"relationship_type"`
	Confidence       float64   `json:"confidence"`
	LastMentioned    time.Time `json:"last_mentioned"`
	TemporalWeight   float64   `json:"temporal_weight"`
}

// EffectiveWeight mirrors UserFact.EffectiveWeight for the persisted form.
func (f Fact) EffectiveWeight() float64 {
	return f.Confidence * f.TemporalWeight
}

// RelationshipScore is the one-row-per-(user,character) relational record (C5).
type RelationshipScore struct {
	UserID           string    `json:"user_id"`
	CharacterID      string    `json:"character_id"`
	Trust            float64   `json:"trust"`
	Affection        float64   `json:"affection"`
	Attunement       float64   `json:"attunement"`
	InteractionCount int       `json:"interaction_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultRelationshipScore is returned by C11.GetScores when no row exists.
func DefaultRelationshipScore(userID, characterID string) RelationshipScore {
	return RelationshipScore{
		UserID: userID, CharacterID: characterID,
		Trust: 0.5, Affection: 0.5, Attunement: 0.5, InteractionCount: 0,
	}
}

// CharacterDefinition is the read-mostly character record (C5).
type CharacterDefinition struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Archetype        Archetype         `json:"archetype"`
	PersonalityTraits []string         `json:"personality_traits,omitempty"`
	CommunicationStyle string          `json:"communication_style,omitempty"`
	Backstory        string            `json:"backstory,omitempty"`
	EmojiPolicy      string            `json:"emoji_policy,omitempty"`
	AIIdentityDisclosure *bool         `json:"ai_identity_disclosure,omitempty"`

	// Goal is an optional standing subtext directive (e.g. "gently steer the
	// conversation toward the user's wellbeing") folded into STYLE_GUIDANCE
	// by C10; empty means the character carries no hidden agenda this turn.
	Goal string `json:"goal,omitempty"`

	// Resilience in [0,1] dampens how strongly a spike in the user's
	// emotional_intensity reaches C10's empathy-guidance rule: a
	// high-resilience character is harder to rattle. Zero value is treated
	// as the neutral default (no damping) by the character integrator.
	Resilience float64 `json:"resilience,omitempty"`
}

// MetricMeasurement enumerates the frozen C6 measurement names.
type MetricMeasurement string

const (
	MeasurementUserEmotion  MetricMeasurement = "user_emotion"
	MeasurementBotEmotion   MetricMeasurement = "bot_emotion"
	MeasurementConfidence   MetricMeasurement = "confidence"
	MeasurementQuality      MetricMeasurement = "quality"
	MeasurementRelationship MetricMeasurement = "relationship"
)

// MetricPoint is an append-only measurement in the time-series store (C6).
type MetricPoint struct {
	Measurement MetricMeasurement  `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ProcessingResult is returned to the platform ingress layer at phase 12.
type ProcessingResult struct {
	ResponseText     string            `json:"response_text"`
	Success          bool              `json:"success"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

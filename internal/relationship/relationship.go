// Package relationship implements C11: bounded trust/affection/attunement
// scoring with read-time decay toward neutral and a quality-weighted update
// rule, persisted through C5 with a C6 metric echo.
package relationship

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
)

const (
	decayWindowDays = 30
	decayPull       = 0.10 // fraction moved back toward 0.5 once the window has elapsed
	neutral         = 0.5

	// Delta scales apply to quality_signal centered on neutral (quality_signal
	// - 0.5), so a below-average turn pulls every score down, not just toward
	// a smaller gain.
	trustDeltaScale        = 0.01
	affectionDeltaScale    = 0.015
	affectionPositiveBonus = 0.005
	attunementDeltaScale   = 0.02
)

// Engine is C11.
type Engine struct {
	Relational relational.Store
	TimeSeries timeseries.Store
}

func New(rel relational.Store, ts timeseries.Store) *Engine {
	return &Engine{Relational: rel, TimeSeries: ts}
}

// GetScores reads the current score row, applying read-time decay toward
// neutral if more than decayWindowDays have elapsed since the last update.
// The decayed value is NOT written back; the next Update call persists
// whatever its own delta logic produces. This resolves the spec's Open
// Question in favor of "decay at read-time, not continuously."
func (e *Engine) GetScores(ctx context.Context, userID, characterID string) (domain.RelationshipScore, error) {
	score, err := e.Relational.GetRelationshipScore(ctx, userID, characterID)
	if err != nil {
		return domain.RelationshipScore{}, fmt.Errorf("relationship: get scores: %w", err)
	}
	if score == nil {
		d := domain.DefaultRelationshipScore(userID, characterID)
		return d, nil
	}

	if time.Since(score.UpdatedAt) > decayWindowDays*24*time.Hour {
		decayed := *score
		decayed.Trust = pullTowardNeutral(decayed.Trust)
		decayed.Affection = pullTowardNeutral(decayed.Affection)
		decayed.Attunement = pullTowardNeutral(decayed.Attunement)
		return decayed, nil
	}
	return *score, nil
}

func pullTowardNeutral(v float64) float64 {
	return v + (neutral-v)*decayPull
}

// State derives the read projection (including the depth label) carried in
// the intelligence bundle.
func State(s domain.RelationshipScore) domain.RelationshipState {
	return domain.RelationshipState{
		Trust: s.Trust, Affection: s.Affection, Attunement: s.Attunement,
		InteractionCount: s.InteractionCount, DepthLabel: depthLabel(s),
	}
}

func depthLabel(s domain.RelationshipScore) string {
	avg := (s.Trust + s.Affection + s.Attunement) / 3
	switch {
	case avg >= 0.8:
		return "deep"
	case avg >= 0.6:
		return "warm"
	case avg >= 0.4:
		return "developing"
	default:
		return "distant"
	}
}

// Update applies the quality-weighted delta rule from spec §4.C11 and
// persists the result to C5 in one transactional write, then echoes the new
// scores as a relationship metric point in C6. A C6 write error is discarded:
// it is neither returned nor logged, and never blocks the relational write.
func (e *Engine) Update(ctx context.Context, userID, characterID string, userEmotion, botEmotion domain.EmotionRecord, confidence domain.Confidence, responseText string) (domain.RelationshipScore, error) {
	current, err := e.GetScores(ctx, userID, characterID)
	if err != nil {
		return domain.RelationshipScore{}, err
	}

	signal := QualitySignal(confidence, userEmotion, botEmotion, responseText)
	centered := signal - neutral

	positiveBonus := 0.0
	if userEmotion.IsPositive() {
		positiveBonus = affectionPositiveBonus
	}

	updated := domain.RelationshipScore{
		UserID:           userID,
		CharacterID:      characterID,
		Trust:            clip01(current.Trust + trustDeltaScale*centered),
		Affection:        clip01(current.Affection + affectionDeltaScale*centered + positiveBonus),
		Attunement:       clip01(current.Attunement + attunementDeltaScale*centered),
		InteractionCount: current.InteractionCount + 1,
		UpdatedAt:        time.Now().UTC(),
	}

	if err := e.Relational.PutRelationshipScore(ctx, updated); err != nil {
		return domain.RelationshipScore{}, fmt.Errorf("relationship: put scores: %w", err)
	}

	// The relationship measurement's fields are frozen per spec §6 and carry
	// no separate quality scalar; quality_signal already shaped the
	// trust/affection/attunement deltas above.
	point := domain.MetricPoint{
		Measurement: domain.MeasurementRelationship,
		Tags:        map[string]string{"user_id": userID, "character_id": characterID},
		Fields: map[string]float64{
			"trust": updated.Trust, "affection": updated.Affection,
			"attunement": updated.Attunement, "interaction_count": float64(updated.InteractionCount),
		},
		Timestamp: updated.UpdatedAt,
	}
	_ = e.TimeSeries.Write(ctx, point)

	return updated, nil
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// QualitySignal computes the [0,1] turn-quality scalar spec §4.C11 weighs
// into every relationship delta: 30% overall confidence, 30% how closely the
// bot's emotional tone tracked the user's, 20% whether the response length
// fit a real reply rather than a one-liner or a wall of text, and 20% a
// lightweight engagement heuristic. C14 echoes the same scalar as the
// "quality" time-series measurement, so the two are computed from one
// shared function rather than drifting independently.
func QualitySignal(confidence domain.Confidence, userEmotion, botEmotion domain.EmotionRecord, responseText string) float64 {
	alignment := emotionAlignment(userEmotion, botEmotion)
	lengthFit := responseLengthFit(responseText)
	engagement := engagementHeuristic(userEmotion, responseText)
	return 0.3*confidence.Overall + 0.3*alignment + 0.2*lengthFit + 0.2*engagement
}

// QualityComponents breaks QualitySignal's inputs out under the C6 "quality"
// measurement's frozen field names (spec §6): engagement_score and
// natural_flow_score map directly onto the engagement heuristic and the
// response-length fit; emotional_resonance is the user/bot sentiment
// alignment; topic_relevance stands in for how well the retrieved context
// matched (C9/C8's own context confidence, since the spec names no separate
// computation for it); satisfaction_score is the same weighted aggregate
// QualitySignal returns, read as "how satisfied was this turn overall."
func QualityComponents(confidence domain.Confidence, userEmotion, botEmotion domain.EmotionRecord, responseText string) map[string]float64 {
	return map[string]float64{
		"engagement_score":    engagementHeuristic(userEmotion, responseText),
		"satisfaction_score":  QualitySignal(confidence, userEmotion, botEmotion, responseText),
		"natural_flow_score":  responseLengthFit(responseText),
		"emotional_resonance": emotionAlignment(userEmotion, botEmotion),
		"topic_relevance":     confidence.Context,
	}
}

// emotionAlignment is 1 when the bot's sentiment exactly matches the user's
// and falls to 0 at the opposite extremes (-1 vs +1).
func emotionAlignment(userEmotion, botEmotion domain.EmotionRecord) float64 {
	return 1 - math.Abs(userEmotion.SentimentScore-botEmotion.SentimentScore)/2
}

// Word-count bounds for responseLengthFit: below lengthFitMinWords the reply
// reads as a dismissive one-liner (score 0); within [lengthFitIdealLow,
// lengthFitIdealHigh] it's a normal conversational turn (score 1); beyond
// lengthFitMaxWords it's an unsolicited wall of text (score 0), with a
// linear falloff in between.
const (
	lengthFitMinWords  = 8
	lengthFitIdealLow  = 20
	lengthFitIdealHigh = 120
	lengthFitMaxWords  = 220
)

func responseLengthFit(responseText string) float64 {
	words := len(strings.Fields(responseText))
	switch {
	case words >= lengthFitIdealLow && words <= lengthFitIdealHigh:
		return 1.0
	case words < lengthFitIdealLow:
		if words <= lengthFitMinWords {
			return 0.0
		}
		return float64(words-lengthFitMinWords) / float64(lengthFitIdealLow-lengthFitMinWords)
	default:
		if words >= lengthFitMaxWords {
			return 0.0
		}
		return float64(lengthFitMaxWords-words) / float64(lengthFitMaxWords-lengthFitIdealHigh)
	}
}

// engagementHeuristic rewards a response that invites the user to keep
// talking (a question back) and a user who arrived with enough emotional
// intensity to be worth engaging with; it starts at a neutral midpoint
// rather than zero so a plain, low-intensity exchange isn't penalized.
func engagementHeuristic(userEmotion domain.EmotionRecord, responseText string) float64 {
	score := 0.5
	if strings.Contains(responseText, "?") {
		score += 0.3
	}
	if userEmotion.EmotionalIntensity >= 0.5 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

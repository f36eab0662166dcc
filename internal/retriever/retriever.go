// Package retriever implements C8: multi-vector search over C4 with quality
// scoring, deduplication, and the contradiction-detection call into Recommend.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/llm"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"
)

// Intent mirrors the subset of router.Intent values the vector-selection
// rule needs; kept as its own type to avoid an import cycle with the router
// package, which depends on retriever for fusion.
type Intent string

const (
	IntentConversationStyle Intent = "conversation_style"
	IntentFactualRecall     Intent = "factual_recall"
)

const (
	halfLifeDaysDefault = 30.0
	searchK             = 20
	resultK             = 10
	minSurvivorsForNoHistory = 3
)

// RankedMemory is one retrieved memory with its computed quality score.
type RankedMemory struct {
	Memory       domain.Memory
	QualityScore float64
}

// Request parameterizes a single retrieval call.
type Request struct {
	UserID          string
	CharacterID     string
	Query           string
	Intent          Intent
	UserEmotion     *domain.EmotionRecord
	CollectionPrefix string
	HalfLifeDays    float64
}

// Result is Retrieve's return value, including the degraded flag spec §4.C4
// requires on store failure.
type Result struct {
	Memories       []RankedMemory
	Degraded       bool
	NoPriorHistory bool
}

// ambiguous similarity band: hits whose normalized [0,1] similarity score falls here are too
// close to call on arithmetic alone, so an optional Judge gets the tie-break.
const (
	judgeBandLow  = 0.4
	judgeBandHigh = 0.6
)

// Retriever is C8.
type Retriever struct {
	Store    vectorstore.Store
	Embedder llm.Embedder

	// Judge is an optional LLM-based re-ranker for hits whose raw similarity
	// falls in the ambiguous band; nil skips the judge call entirely and
	// keeps every hit on arithmetic scoring alone, matching spec's pure
	// quality-score algorithm.
	Judge llm.LLMClient

	// DedupGuard, when set, prevents concurrent workers across instances
	// from repeating the same contradiction-detection query for the same
	// (collection, entity) pair within a short window.
	DedupGuard ContradictionGuard
}

// ContradictionGuard reports whether the caller is the first to claim a
// given key within the guard's window; a false return means another worker
// already claimed it and the caller should skip its own lookup.
type ContradictionGuard interface {
	Acquire(ctx context.Context, key string) bool
}

func New(store vectorstore.Store, embedder llm.Embedder) *Retriever {
	return &Retriever{Store: store, Embedder: embedder}
}

// SelectVector applies the deterministic named-vector selection rule.
func SelectVector(intent Intent, userEmotion *domain.EmotionRecord) vectorstore.VectorName {
	if intent == IntentConversationStyle {
		return vectorstore.VectorEmotion
	}
	if userEmotion != nil && userEmotion.EmotionalIntensity >= 0.7 {
		return vectorstore.VectorEmotion
	}
	if intent == IntentFactualRecall {
		return vectorstore.VectorSemantic
	}
	return vectorstore.VectorContent
}

func prefixFor(vector vectorstore.VectorName, userEmotion *domain.EmotionRecord) string {
	switch vector {
	case vectorstore.VectorEmotion:
		primary := "neutral"
		if userEmotion != nil && userEmotion.PrimaryEmotion != "" {
			primary = userEmotion.PrimaryEmotion
		}
		return "emotion " + primary + ": "
	case vectorstore.VectorSemantic:
		return "concept query: "
	default:
		return ""
	}
}

// Retrieve runs the five-step algorithm in spec §4.C8. On any Search failure
// it returns an empty list with Degraded=true so the orchestrator can
// continue phase 3.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Result, error) {
	vector := SelectVector(req.Intent, req.UserEmotion)
	prefix := prefixFor(vector, req.UserEmotion)

	queryVec, err := r.Embedder.Embed(ctx, prefix+req.Query)
	if err != nil {
		return Result{Degraded: true}, nil
	}

	collection := vectorstore.CollectionName(req.CollectionPrefix, req.CharacterID)
	hits, err := r.Store.Search(ctx, collection, vector, queryVec, searchK, vectorstore.Filters{UserID: req.UserID})
	if err != nil {
		return Result{Degraded: true}, nil
	}

	halfLife := req.HalfLifeDays
	if halfLife <= 0 {
		halfLife = halfLifeDaysDefault
	}

	seen := make(map[string]bool)
	var ranked []RankedMemory
	for _, hit := range hits {
		key := contentHashKey(hit.Payload.Content)
		if seen[key] {
			continue
		}
		if hit.Score >= judgeBandLow && hit.Score <= judgeBandHigh && !r.judgeRelevant(ctx, req.Query, hit.Payload.Content) {
			continue
		}
		seen[key] = true
		ranked = append(ranked, RankedMemory{
			Memory:       hit.Payload,
			QualityScore: qualityScore(hit.Score, hit.Payload, halfLife),
		})
	}

	sortByQualityDesc(ranked)
	if len(ranked) > resultK {
		ranked = ranked[:resultK]
	}

	return Result{Memories: ranked, NoPriorHistory: len(ranked) < minSurvivorsForNoHistory}, nil
}

// judgeRelevant asks the optional LLM judge whether a borderline-similarity
// memory is actually relevant to the query. A nil Judge, an LLM error, or
// any answer that doesn't start with "no" all default to keeping
// the hit — the judge only narrows the ambiguous band, it never replaces
// the arithmetic scoring as the source of truth.
func (r *Retriever) judgeRelevant(ctx context.Context, query, memoryContent string) bool {
	if r.Judge == nil {
		return true
	}
	prompt := fmt.Sprintf("Query: %q\nCandidate past memory: %q\nIs this memory relevant context for answering the query? Answer yes or no only.", query, memoryContent)
	result, err := r.Judge.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, "", 0.0, 5)
	if err != nil {
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(result.Text))
	return !strings.HasPrefix(answer, "no")
}

// qualityScore is C4's scoring formula, computed here by C8 as the spec
// assigns.
func qualityScore(similarity float64, m domain.Memory, halfLifeDays float64) float64 {
	confidence := m.UserEmotion.Confidence
	intensity := m.UserEmotion.EmotionalIntensity
	ageDays := time.Since(m.Timestamp).Hours() / 24
	recency := math.Exp(-ageDays / halfLifeDays)
	return 0.55*similarity + 0.25*(confidence*intensity) + 0.20*recency
}

func sortByQualityDesc(ranked []RankedMemory) {
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && ranked[j-1].QualityScore < ranked[j].QualityScore {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
			j--
		}
	}
}

// contentHashKey hashes the first 200 characters of trimmed content, per the
// dedup rule in spec §4.C8.
func contentHashKey(content string) string {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	sum := sha256.Sum256([]byte(trimmed))
	return hex.EncodeToString(sum[:])
}

// DetectContradiction surfaces prior conflicting memories via C4.Recommend,
// called at phase 9b. It never blocks the write; callers log the result.
// When a DedupGuard is configured, a concurrent worker that already issued
// the identical (collection, entity) Recommend query within the guard's TTL
// short-circuits to an empty result instead of repeating the lookup.
func (r *Retriever) DetectContradiction(ctx context.Context, collection string, candidateID uuid.UUID, conflictingEntity string) ([]vectorstore.ScoredPoint, error) {
	if r.DedupGuard != nil && !r.DedupGuard.Acquire(ctx, collection+"|"+conflictingEntity) {
		return nil, nil
	}
	return r.Store.Recommend(ctx, collection, candidateID, vectorstore.Filters{EntityNameExcludes: []string{conflictingEntity}}, 5)
}

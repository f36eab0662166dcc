// Package router implements C7: rule-based intent classification over an
// incoming query, and fusion of C5/C8/C6 results for the multi_modal intent.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/coregx/ahocorasick"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/relational"
	"github.com/kairos-ai/kairos-core/internal/retriever"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
)

// Intent is one of the five classified query intents.
type Intent string

const (
	IntentFactualRecall     Intent = "factual_recall"
	IntentConversationStyle Intent = "conversation_style"
	IntentTemporalAnalysis  Intent = "temporal_analysis"
	IntentEntitySearch      Intent = "entity_search"
	IntentMultiModal        Intent = "multi_modal"
)

// phrase sets, checked in priority order. Aho-Corasick gives O(n) multi-phrase
// matching in one pass per category instead of N separate strings.Contains
// scans, grounded on the pack's runtime-dictionary matcher.
var (
	temporalPhrases = []string{
		"over time", "lately", "used to", "these days", "nowadays",
		"recently", "in the past", "how things have changed",
	}
	conversationPhrases = []string{
		"we talked about", "how did we", "what did we discuss", "last time we",
		"remember when we", "you said",
	}
	entityTypeKeywords = []string{
		"foods", "food", "hobbies", "hobby", "places", "movies", "music",
		"books", "games", "animals", "pets", "colors", "drinks",
	}
	questionWords = []string{"what", "who", "which", "where"}
)

func buildMatcher(phrases []string) *ahocorasick.Automaton {
	ac, err := ahocorasick.NewBuilder().
		AddStrings(phrases).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		return nil
	}
	return ac
}

var (
	temporalMatcher     = buildMatcher(temporalPhrases)
	conversationMatcher = buildMatcher(conversationPhrases)
	entityTypeMatcher   = buildMatcher(entityTypeKeywords)
)

func anyMatch(ac *ahocorasick.Automaton, text string) bool {
	if ac == nil {
		return false
	}
	return len(ac.FindAllOverlapping([]byte(text))) > 0
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Classify applies the priority-ordered rule chain from spec §4.C7.
func Classify(query string) Intent {
	lower := strings.ToLower(query)
	if anyMatch(temporalMatcher, lower) {
		return IntentTemporalAnalysis
	}
	if containsAny(lower, questionWords) && anyMatch(entityTypeMatcher, lower) {
		return IntentFactualRecall
	}
	if anyMatch(conversationMatcher, lower) {
		return IntentConversationStyle
	}
	return IntentMultiModal
}

// FusionResult is the merged output of a multi_modal dispatch.
type FusionResult struct {
	Facts          []domain.Fact
	Memories       []retriever.RankedMemory
	TrendPoints    []domain.MetricPoint
	NoPriorHistory bool
}

// Fuse implements the four-step algorithm in spec §4.C7 for the multi_modal
// intent: facts first, then quality-ordered memories with any memory whose
// content overlaps a fact's entity_name by substring dropped.
func Fuse(ctx context.Context, rel relational.Store, ret *retriever.Retriever, ts timeseries.Store, userID, characterID, query string) (FusionResult, error) {
	facts, err := rel.QueryFacts(ctx, relational.FactQuery{UserID: userID, CharacterID: characterID, Limit: 10})
	if err != nil {
		facts = nil
	}

	result, err := ret.Retrieve(ctx, retriever.Request{
		UserID: userID, CharacterID: characterID, Query: query,
	})
	if err != nil {
		result = retriever.Result{}
	}

	deduped := make([]retriever.RankedMemory, 0, len(result.Memories))
	for _, m := range result.Memories {
		if overlapsAnyFact(m.Memory.Content, facts) {
			continue
		}
		deduped = append(deduped, m)
	}

	var trend []domain.MetricPoint
	if mentionsQuantifiableAttribute(query) {
		since := time.Now().UTC().AddDate(0, 0, -7)
		trend, _ = ts.QueryRange(ctx, domain.MeasurementConfidence, characterID, userID, since)
	}

	return FusionResult{Facts: facts, Memories: deduped, TrendPoints: trend, NoPriorHistory: result.NoPriorHistory}, nil
}

func overlapsAnyFact(content string, facts []domain.Fact) bool {
	lower := strings.ToLower(content)
	for _, f := range facts {
		if f.EntityName != "" && strings.Contains(lower, strings.ToLower(f.EntityName)) {
			return true
		}
	}
	return false
}

var quantifiableAttributes = []string{"score", "level", "trust", "confidence", "intensity", "mood", "rating", "count"}

func mentionsQuantifiableAttribute(query string) bool {
	return containsAny(strings.ToLower(query), quantifiableAttributes)
}

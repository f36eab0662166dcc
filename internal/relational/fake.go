package relational

import (
	"context"
	"sort"
	"sync"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// FakeStore is an in-memory Store substitute for orchestrator/router tests.
type FakeStore struct {
	mu sync.Mutex

	facts        map[string]domain.Fact // keyed by user|character|entity|relationship
	characters   map[string]domain.CharacterDefinition
	relationships map[string]domain.RelationshipScore

	FailCharacterLookup bool
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		facts:         make(map[string]domain.Fact),
		characters:    make(map[string]domain.CharacterDefinition),
		relationships: make(map[string]domain.RelationshipScore),
	}
}

func factKey(userID, characterID, entityName, relationshipType string) string {
	return userID + "|" + characterID + "|" + entityName + "|" + relationshipType
}

func (f *FakeStore) UpsertFact(ctx context.Context, fact domain.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := factKey(fact.UserID, fact.CharacterID, fact.EntityName, fact.RelationshipType)
	if existing, ok := f.facts[key]; ok {
		if existing.Confidence > fact.Confidence {
			fact.Confidence = existing.Confidence
		}
		if existing.LastMentioned.After(fact.LastMentioned) {
			fact.LastMentioned = existing.LastMentioned
		}
	}
	f.facts[key] = fact
	return nil
}

func (f *FakeStore) QueryFacts(ctx context.Context, q FactQuery) ([]domain.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Fact
	for _, fact := range f.facts {
		if fact.UserID != q.UserID || fact.CharacterID != q.CharacterID {
			continue
		}
		if fact.Confidence < q.MinConfidence || fact.TemporalWeight < q.MinTemporalWeight {
			continue
		}
		out = append(out, fact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveWeight() > out[j].EffectiveWeight() })
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) TwoHopEntities(ctx context.Context, userID, characterID string, seeds []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	for _, seed := range seeds {
		for _, fact := range f.facts {
			if fact.UserID == userID && fact.CharacterID == characterID && fact.EntityName != seed {
				seen[fact.EntityName] = true
			}
		}
	}
	var out []string
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (f *FakeStore) PutCharacterDefinition(cd domain.CharacterDefinition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.characters[cd.ID] = cd
}

func (f *FakeStore) GetCharacterDefinition(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCharacterLookup {
		return domain.CharacterDefinition{}, ErrCharacterNotFound
	}
	cd, ok := f.characters[characterID]
	if !ok {
		return domain.CharacterDefinition{}, ErrCharacterNotFound
	}
	return cd, nil
}

func (f *FakeStore) GetRelationshipScore(ctx context.Context, userID, characterID string) (*domain.RelationshipScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.relationships[userID+"|"+characterID]
	if !ok {
		return nil, nil
	}
	cp := rs
	return &cp, nil
}

func (f *FakeStore) PutRelationshipScore(ctx context.Context, s domain.RelationshipScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relationships[s.UserID+"|"+s.CharacterID] = s
	return nil
}

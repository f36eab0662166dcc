package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// FakeStore is an in-memory Store substitute, letting C8/C13 tests run
// without a database, per the "store-agnostic coordinator" design note.
type FakeStore struct {
	mu     sync.Mutex
	points map[string]map[uuid.UUID]fakePoint

	// FailSearch, when set, makes Search return this error on every call.
	FailSearch error
}

type fakePoint struct {
	vectors domain.NamedVectors
	payload domain.Memory
}

func NewFakeStore() *FakeStore {
	return &FakeStore{points: make(map[string]map[uuid.UUID]fakePoint)}
}

func (f *FakeStore) UpsertPoint(ctx context.Context, collection string, id uuid.UUID, vectors domain.NamedVectors, payload domain.Memory) error {
	if !hasAllVectors(vectors) {
		return ErrPartialVectors
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.points[collection] == nil {
		f.points[collection] = make(map[uuid.UUID]fakePoint)
	}
	payload.ID = id
	f.points[collection][id] = fakePoint{vectors: vectors, payload: payload}
	return nil
}

func (f *FakeStore) Search(ctx context.Context, collection string, vector VectorName, query [384]float32, k int, filters Filters) ([]ScoredPoint, error) {
	if f.FailSearch != nil {
		return nil, f.FailSearch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ScoredPoint
	for id, p := range f.points[collection] {
		if !matchesFilters(p.payload, filters) {
			continue
		}
		var v [384]float32
		switch vector {
		case VectorContent:
			v = p.vectors.Content
		case VectorEmotion:
			v = p.vectors.Emotion
		case VectorSemantic:
			v = p.vectors.Semantic
		}
		out = append(out, ScoredPoint{ID: id, Score: cosineSimilarity(query, v), Payload: p.payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *FakeStore) Scroll(ctx context.Context, collection string, filters Filters, k int) ([]ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ScoredPoint
	for id, p := range f.points[collection] {
		if !matchesFilters(p.payload, filters) {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Payload: p.payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payload.Timestamp.After(out[j].Payload.Timestamp) })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *FakeStore) Recommend(ctx context.Context, collection string, positiveID uuid.UUID, negativeFilters Filters, k int) ([]ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.points[collection][positiveID]
	if !ok {
		return nil, nil
	}
	var out []ScoredPoint
	for id, p := range f.points[collection] {
		if id == positiveID || !matchesFilters(p.payload, negativeFilters) {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Score: cosineSimilarity(ref.vectors.Content, p.vectors.Content), Payload: p.payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matchesFilters(payload domain.Memory, f Filters) bool {
	if f.UserID != "" && payload.UserID != f.UserID {
		return false
	}
	for _, excl := range f.EntityNameExcludes {
		if excl != "" && contains(payload.Content, excl) {
			return false
		}
	}
	if f.Since != nil && payload.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

func contains(haystack, needle string) bool {
	return len(needle) > 0 && indexOfSubstring(haystack, needle) >= 0
}

func indexOfSubstring(s, sub string) int {
	n, m := len(s), len(sub)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}

func cosineSimilarity(a, b [384]float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// normalize [-1,1] -> [0,1]
	return (sim + 1) / 2
}

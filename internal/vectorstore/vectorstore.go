// Package vectorstore implements C4: a collection-partitioned store of points
// carrying three named 384-dim vectors plus a conversation-memory payload.
package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// VectorName enumerates the three frozen named vectors.
type VectorName string

const (
	VectorContent  VectorName = "content"
	VectorEmotion  VectorName = "emotion"
	VectorSemantic VectorName = "semantic"
)

// ErrPartialVectors is returned when UpsertPoint is called with fewer than
// three named vectors; the invariant in spec §3 forbids partial inserts.
var ErrPartialVectors = errors.New("vectorstore: all three named vectors are required")

// Filters narrows Search/Scroll/Recommend queries. Collections are already
// partitioned per character, so CharacterID is not a filter field: the store
// must refuse cross-collection lookups at the query boundary.
type Filters struct {
	UserID             string
	EntityNameExcludes []string
	Since              *time.Time
}

// ScoredPoint is one hit returned by Search/Scroll/Recommend.
type ScoredPoint struct {
	ID      uuid.UUID
	Score   float64 // Search: cosine similarity normalized to [0,1]; Recommend: similarity to the positive point; 0 for Scroll's ordering-only results
	Payload domain.Memory
}

// Store is the C4 contract.
type Store interface {
	// UpsertPoint atomically stores a point with all three named vectors, or
	// fails entirely.
	UpsertPoint(ctx context.Context, collection string, id uuid.UUID, vectors domain.NamedVectors, payload domain.Memory) error

	// Search performs similarity search against one named vector.
	Search(ctx context.Context, collection string, vector VectorName, query [384]float32, k int, filters Filters) ([]ScoredPoint, error)

	// Scroll returns points in reverse-chronological order.
	Scroll(ctx context.Context, collection string, filters Filters, k int) ([]ScoredPoint, error)

	// Recommend returns points similar to positiveID but dissimilar to
	// anything matching negativeFilters, for contradiction detection.
	Recommend(ctx context.Context, collection string, positiveID uuid.UUID, negativeFilters Filters, k int) ([]ScoredPoint, error)
}

// CollectionName applies the one-collection-per-character naming convention.
func CollectionName(prefix, characterID string) string {
	if prefix == "" {
		return "char_" + characterID
	}
	return prefix + "_" + characterID
}

// Package relational implements C5: facts, character definitions, and
// relationship-score rows over a transactional relational backend.
package relational

import (
	"context"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// FactQuery narrows Fact reads with confidence-filtered thresholds.
type FactQuery struct {
	UserID            string
	CharacterID       string
	MinConfidence     float64
	MinTemporalWeight float64
	EntityNameLike    string
	Limit             int
}

// Store is the C5 contract: transactional reads/writes over facts, character
// definitions, and relationship scores.
type Store interface {
	// UpsertFact is deterministic on (user_id, character_id, entity_name,
	// relationship_type): confidence becomes max(existing, incoming),
	// last_mentioned becomes max(existing, incoming).
	UpsertFact(ctx context.Context, f domain.Fact) error

	// QueryFacts returns facts matching q ordered by effective weight desc.
	QueryFacts(ctx context.Context, q FactQuery) ([]domain.Fact, error)

	// TwoHopEntities returns entity names sharing a fact with any of seeds,
	// supporting the recursive two-hop traversal required by §6.
	TwoHopEntities(ctx context.Context, userID, characterID string, seeds []string) ([]string, error)

	// GetCharacterDefinition reads a read-mostly character record.
	GetCharacterDefinition(ctx context.Context, characterID string) (domain.CharacterDefinition, error)

	// GetRelationshipScore returns nil if no row exists.
	GetRelationshipScore(ctx context.Context, userID, characterID string) (*domain.RelationshipScore, error)

	// PutRelationshipScore writes the row inside a single transaction,
	// acquiring a row lock for the duration of the write per the spec's
	// locking discipline.
	PutRelationshipScore(ctx context.Context, s domain.RelationshipScore) error
}

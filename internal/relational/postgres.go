package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// PgStore is the Postgres implementation of Store, following the teacher's
// upsert-on-natural-key idiom (see trait_repo.go's ON CONFLICT pattern).
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) UpsertFact(ctx context.Context, f domain.Fact) error {
	const query = `
		INSERT INTO facts (user_id, character_id, entity_name, entity_type, relationship_type, confidence, last_mentioned, temporal_weight)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id, character_id, entity_name, relationship_type)
		DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			confidence = GREATEST(facts.confidence, EXCLUDED.confidence),
			last_mentioned = GREATEST(facts.last_mentioned, EXCLUDED.last_mentioned),
			temporal_weight = EXCLUDED.temporal_weight
	`
	_, err := s.pool.Exec(ctx, query,
		f.UserID, f.CharacterID, f.EntityName, f.EntityType, f.RelationshipType,
		f.Confidence, f.LastMentioned, f.TemporalWeight)
	return err
}

func (s *PgStore) QueryFacts(ctx context.Context, q FactQuery) ([]domain.Fact, error) {
	var sb strings.Builder
	args := []interface{}{q.UserID, q.CharacterID}
	sb.WriteString(`
		SELECT user_id, character_id, entity_name, entity_type, relationship_type, confidence, last_mentioned, temporal_weight
		FROM facts
		WHERE user_id = $1 AND character_id = $2`)
	if q.MinConfidence > 0 {
		args = append(args, q.MinConfidence)
		fmt.Fprintf(&sb, " AND confidence >= $%d", len(args))
	}
	if q.MinTemporalWeight > 0 {
		args = append(args, q.MinTemporalWeight)
		fmt.Fprintf(&sb, " AND temporal_weight >= $%d", len(args))
	}
	if q.EntityNameLike != "" {
		args = append(args, "%"+q.EntityNameLike+"%")
		fmt.Fprintf(&sb, " AND entity_name ILIKE $%d", len(args))
	}
	sb.WriteString(" ORDER BY confidence * temporal_weight DESC")
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	fmt.Fprintf(&sb, " LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []domain.Fact
	for rows.Next() {
		var f domain.Fact
		if err := rows.Scan(&f.UserID, &f.CharacterID, &f.EntityName, &f.EntityType,
			&f.RelationshipType, &f.Confidence, &f.LastMentioned, &f.TemporalWeight); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// TwoHopEntities performs the recursive two-hop traversal required by §6:
// entities that share a fact row with any of the seed entities.
func (s *PgStore) TwoHopEntities(ctx context.Context, userID, characterID string, seeds []string) ([]string, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	const query = `
		WITH RECURSIVE hop(entity_name, depth) AS (
			SELECT entity_name, 0 FROM facts
			WHERE user_id = $1 AND character_id = $2 AND entity_name = ANY($3)
			UNION
			SELECT f2.entity_name, hop.depth + 1
			FROM facts f1
			JOIN facts f2 ON f1.relationship_type = f2.relationship_type
				AND f1.user_id = f2.user_id AND f1.character_id = f2.character_id
			JOIN hop ON hop.entity_name = f1.entity_name
			WHERE hop.depth < 2 AND f2.entity_name <> f1.entity_name
		)
		SELECT DISTINCT entity_name FROM hop WHERE depth > 0
	`
	rows, err := s.pool.Query(ctx, query, userID, characterID, seeds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *PgStore) GetCharacterDefinition(ctx context.Context, characterID string) (domain.CharacterDefinition, error) {
	const query = `
		SELECT id, name, archetype, personality_traits, communication_style, backstory, emoji_policy,
			ai_identity_disclosure, COALESCE(goal, ''), COALESCE(resilience, 0)
		FROM character_definitions
		WHERE id = $1
	`
	var (
		cd               domain.CharacterDefinition
		traitsJSON       string
		aiDisclosure     *bool
	)
	err := s.pool.QueryRow(ctx, query, characterID).Scan(
		&cd.ID, &cd.Name, &cd.Archetype, &traitsJSON, &cd.CommunicationStyle, &cd.Backstory, &cd.EmojiPolicy,
		&aiDisclosure, &cd.Goal, &cd.Resilience)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CharacterDefinition{}, ErrCharacterNotFound
		}
		return domain.CharacterDefinition{}, err
	}
	if traitsJSON != "" {
		_ = json.Unmarshal([]byte(traitsJSON), &cd.PersonalityTraits)
	}
	cd.AIIdentityDisclosure = aiDisclosure
	return cd, nil
}

// ErrCharacterNotFound signals phase-2/phase-5 to fall back to a minimal
// identity component.
var ErrCharacterNotFound = errors.New("relational: character definition not found")

func (s *PgStore) GetRelationshipScore(ctx context.Context, userID, characterID string) (*domain.RelationshipScore, error) {
	const query = `
		SELECT user_id, character_id, trust, affection, attunement, interaction_count, updated_at
		FROM relationship_scores
		WHERE user_id = $1 AND character_id = $2
	`
	var rs domain.RelationshipScore
	err := s.pool.QueryRow(ctx, query, userID, characterID).Scan(
		&rs.UserID, &rs.CharacterID, &rs.Trust, &rs.Affection, &rs.Attunement, &rs.InteractionCount, &rs.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rs, nil
}

// PutRelationshipScore writes the row within a single transaction, acquiring
// a row lock for its duration (the only locking point in the pipeline per
// the spec's locking discipline).
func (s *PgStore) PutRelationshipScore(ctx context.Context, sc domain.RelationshipScore) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const lockQuery = `SELECT 1 FROM relationship_scores WHERE user_id = $1 AND character_id = $2 FOR UPDATE`
	_, _ = tx.Exec(ctx, lockQuery, sc.UserID, sc.CharacterID)

	const upsert = `
		INSERT INTO relationship_scores (user_id, character_id, trust, affection, attunement, interaction_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (user_id, character_id) DO UPDATE SET
			trust = EXCLUDED.trust,
			affection = EXCLUDED.affection,
			attunement = EXCLUDED.attunement,
			interaction_count = EXCLUDED.interaction_count,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.Exec(ctx, upsert, sc.UserID, sc.CharacterID, sc.Trust, sc.Affection, sc.Attunement, sc.InteractionCount, sc.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

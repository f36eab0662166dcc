package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// PgStore is the Postgres+pgvector implementation of Store, grounded on the
// teacher's narrative_memories table but expanded to the three-named-vector
// schema (content_vec/emotion_vec/semantic_vec) required by the spec.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) UpsertPoint(ctx context.Context, collection string, id uuid.UUID, vectors domain.NamedVectors, payload domain.Memory) error {
	if !payload.HasAllVectors() && !hasAllVectors(vectors) {
		return ErrPartialVectors
	}
	userEmotion, err := json.Marshal(payload.UserEmotion)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal user_emotion: %w", err)
	}
	var botEmotion []byte
	if payload.BotEmotion != nil {
		botEmotion, err = json.Marshal(payload.BotEmotion)
		if err != nil {
			return fmt.Errorf("vectorstore: marshal bot_emotion: %w", err)
		}
	}

	const query = `
		INSERT INTO memory_points (
			id, collection, user_id, character_id, kind, content, bot_response,
			content_vec, emotion_vec, semantic_vec,
			user_emotion, bot_emotion, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			bot_response = EXCLUDED.bot_response,
			content_vec = EXCLUDED.content_vec,
			emotion_vec = EXCLUDED.emotion_vec,
			semantic_vec = EXCLUDED.semantic_vec,
			user_emotion = EXCLUDED.user_emotion,
			bot_emotion = EXCLUDED.bot_emotion
	`
	_, err = s.pool.Exec(ctx, query,
		id, collection, payload.UserID, payload.CharacterID, string(payload.Kind),
		payload.Content, payload.BotResponse,
		pgvector.NewVector(vectors.Content[:]),
		pgvector.NewVector(vectors.Emotion[:]),
		pgvector.NewVector(vectors.Semantic[:]),
		string(userEmotion), nullableString(botEmotion),
		payload.Timestamp,
	)
	return err
}

func hasAllVectors(v domain.NamedVectors) bool {
	nz := func(a []float32) bool {
		for _, f := range a {
			if f != 0 {
				return true
			}
		}
		return false
	}
	return nz(v.Content[:]) && nz(v.Emotion[:]) && nz(v.Semantic[:])
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func vectorColumn(name VectorName) (string, error) {
	switch name {
	case VectorContent:
		return "content_vec", nil
	case VectorEmotion:
		return "emotion_vec", nil
	case VectorSemantic:
		return "semantic_vec", nil
	default:
		return "", fmt.Errorf("vectorstore: unknown named vector %q", name)
	}
}

func (s *PgStore) Search(ctx context.Context, collection string, vector VectorName, query [384]float32, k int, filters Filters) ([]ScoredPoint, error) {
	col, err := vectorColumn(vector)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	var sb strings.Builder
	args := []interface{}{collection, pgvector.NewVector(query[:])}
	fmt.Fprintf(&sb, `
		SELECT id, user_id, character_id, kind, content, bot_response, user_emotion, bot_emotion, created_at,
		       (2.0 - (%s <=> $2)) / 2.0 AS score
		FROM memory_points
		WHERE collection = $1`, col)
	appendFilters(&sb, &args, filters)
	sb.WriteString(fmt.Sprintf(" ORDER BY %s <=> $2 LIMIT %d", col, k))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredPoints(rows)
}

func (s *PgStore) Scroll(ctx context.Context, collection string, filters Filters, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		k = 20
	}
	var sb strings.Builder
	args := []interface{}{collection}
	sb.WriteString(`
		SELECT id, user_id, character_id, kind, content, bot_response, user_emotion, bot_emotion, created_at,
		       0.0 AS score
		FROM memory_points
		WHERE collection = $1`)
	appendFilters(&sb, &args, filters)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", k))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredPoints(rows)
}

// Recommend surfaces points similar to positiveID but excluding anything
// matching negativeFilters, used for contradiction detection at phase 9b.
func (s *PgStore) Recommend(ctx context.Context, collection string, positiveID uuid.UUID, negativeFilters Filters, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		k = 5
	}
	var sb strings.Builder
	args := []interface{}{collection, positiveID}
	sb.WriteString(`
		SELECT p.id, p.user_id, p.character_id, p.kind, p.content, p.bot_response, p.user_emotion, p.bot_emotion, p.created_at,
		       1.0 - (p.content_vec <=> ref.content_vec) AS score
		FROM memory_points p, (SELECT content_vec FROM memory_points WHERE id = $2) ref
		WHERE p.collection = $1 AND p.id <> $2`)
	appendFilters(&sb, &args, negativeFilters)
	sb.WriteString(fmt.Sprintf(" ORDER BY p.content_vec <=> ref.content_vec LIMIT %d", k))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScoredPoints(rows)
}

func appendFilters(sb *strings.Builder, args *[]interface{}, f Filters) {
	if f.UserID != "" {
		*args = append(*args, f.UserID)
		fmt.Fprintf(sb, " AND user_id = $%d", len(*args))
	}
	if f.Since != nil {
		*args = append(*args, *f.Since)
		fmt.Fprintf(sb, " AND created_at >= $%d", len(*args))
	}
	for _, excl := range f.EntityNameExcludes {
		*args = append(*args, "%"+excl+"%")
		fmt.Fprintf(sb, " AND content NOT ILIKE $%d", len(*args))
	}
}

func scanScoredPoints(rows pgx.Rows) ([]ScoredPoint, error) {
	var out []ScoredPoint
	for rows.Next() {
		var (
			sp          ScoredPoint
			kind        string
			userEmotion string
			botEmotion  *string
			createdAt   time.Time
		)
		if err := rows.Scan(&sp.ID, &sp.Payload.UserID, &sp.Payload.CharacterID, &kind,
			&sp.Payload.Content, &sp.Payload.BotResponse, &userEmotion, &botEmotion, &createdAt, &sp.Score); err != nil {
			return nil, err
		}
		sp.Payload.ID = sp.ID
		sp.Payload.Kind = domain.MemoryKind(kind)
		sp.Payload.Timestamp = createdAt
		if err := json.Unmarshal([]byte(userEmotion), &sp.Payload.UserEmotion); err != nil {
			return nil, fmt.Errorf("vectorstore: unmarshal user_emotion: %w", err)
		}
		if botEmotion != nil {
			var rec domain.EmotionRecord
			if err := json.Unmarshal([]byte(*botEmotion), &rec); err != nil {
				return nil, fmt.Errorf("vectorstore: unmarshal bot_emotion: %w", err)
			}
			sp.Payload.BotEmotion = &rec
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

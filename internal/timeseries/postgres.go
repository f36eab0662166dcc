package timeseries

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// PgStore persists metric points as an append-only table over the same
// Postgres instance as C4/C5 (no dedicated time-series client appears
// anywhere in the example pack, so the relational backbone is reused — see
// DESIGN.md).
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Write(ctx context.Context, point domain.MetricPoint) error {
	tags, err := json.Marshal(point.Tags)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(point.Fields)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO metric_points (measurement, tags, fields, recorded_at)
		VALUES ($1, $2::jsonb, $3::jsonb, $4)
	`
	_, err = s.pool.Exec(ctx, query, string(point.Measurement), string(tags), string(fields), point.Timestamp)
	return err
}

func (s *PgStore) QueryRange(ctx context.Context, measurement domain.MetricMeasurement, characterID, userID string, since time.Time) ([]domain.MetricPoint, error) {
	const query = `
		SELECT tags, fields, recorded_at
		FROM metric_points
		WHERE measurement = $1
		  AND tags->>'character_id' = $2
		  AND tags->>'user_id' = $3
		  AND recorded_at >= $4
		ORDER BY recorded_at ASC
	`
	rows, err := s.pool.Query(ctx, query, string(measurement), characterID, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MetricPoint
	for rows.Next() {
		var tagsJSON, fieldsJSON string
		var recordedAt time.Time
		if err := rows.Scan(&tagsJSON, &fieldsJSON, &recordedAt); err != nil {
			return nil, err
		}
		p := domain.MetricPoint{Measurement: measurement, Timestamp: recordedAt}
		if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Package timeseries implements C6: an append-only store of metric points,
// fire-and-forget on the hot path.
package timeseries

import (
	"context"
	"time"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// Store is the C6 contract. Write failures are tolerated silently by
// callers; Store itself just reports the error for logging.
type Store interface {
	Write(ctx context.Context, point domain.MetricPoint) error

	// QueryRange returns points for measurement within [since, now], tagged
	// to (characterID, userID), ordered chronologically. Used by C12 and by
	// out-of-core analysis tools.
	QueryRange(ctx context.Context, measurement domain.MetricMeasurement, characterID, userID string, since time.Time) ([]domain.MetricPoint, error)
}

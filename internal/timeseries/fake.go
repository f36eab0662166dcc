package timeseries

import (
	"context"
	"sync"
	"time"

	"github.com/kairos-ai/kairos-core/internal/domain"
)

// FakeStore is an in-memory Store substitute for tests.
type FakeStore struct {
	mu     sync.Mutex
	points []domain.MetricPoint

	FailWrite error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (f *FakeStore) Write(ctx context.Context, point domain.MetricPoint) error {
	if f.FailWrite != nil {
		return f.FailWrite
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, point)
	return nil
}

func (f *FakeStore) QueryRange(ctx context.Context, measurement domain.MetricMeasurement, characterID, userID string, since time.Time) ([]domain.MetricPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MetricPoint
	for _, p := range f.points {
		if p.Measurement != measurement {
			continue
		}
		if p.Tags["character_id"] != characterID || p.Tags["user_id"] != userID {
			continue
		}
		if p.Timestamp.Before(since) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// All returns every recorded point, for test assertions.
func (f *FakeStore) All() []domain.MetricPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MetricPoint, len(f.points))
	copy(out, f.points)
	return out
}

// Package trajectory implements C12: the bot's recent emotional-intensity
// slope, sourced primarily from C6 and falling back to a C4 scroll when the
// time-series window is empty.
package trajectory

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kairos-ai/kairos-core/internal/domain"
	"github.com/kairos-ai/kairos-core/internal/vectorstore"
	"github.com/kairos-ai/kairos-core/internal/timeseries"
)

const (
	lookbackWindow    = 24 * time.Hour
	fallbackScrollK   = 10
	intensifyingSlope = 0.05
	calmingSlope      = -0.05
)

// Analyzer is C12.
type Analyzer struct {
	TimeSeries  timeseries.Store
	VectorStore vectorstore.Store
}

func New(ts timeseries.Store, vs vectorstore.Store) *Analyzer {
	return &Analyzer{TimeSeries: ts, VectorStore: vs}
}

// Analyze computes the trajectory for a (user, character) pair as of now.
func (a *Analyzer) Analyze(ctx context.Context, collection, userID, characterID string) (domain.EmotionalTrajectory, error) {
	since := time.Now().UTC().Add(-lookbackWindow)
	points, err := a.TimeSeries.QueryRange(ctx, domain.MeasurementBotEmotion, characterID, userID, since)
	if err == nil && len(points) >= 2 {
		return fromMetricPoints(points), nil
	}

	records, emotions, err := a.scrollFallback(ctx, collection, userID)
	if err != nil || len(emotions) == 0 {
		return domain.EmotionalTrajectory{}, nil
	}
	return fromEmotionRecords(records, emotions), nil
}

func (a *Analyzer) scrollFallback(ctx context.Context, collection, userID string) ([]domain.EmotionRecord, []time.Time, error) {
	hits, err := a.VectorStore.Scroll(ctx, collection, vectorstore.Filters{UserID: userID}, fallbackScrollK)
	if err != nil {
		return nil, nil, err
	}
	var records []domain.EmotionRecord
	var stamps []time.Time
	for _, h := range hits {
		if h.Payload.BotEmotion == nil {
			continue
		}
		records = append(records, *h.Payload.BotEmotion)
		stamps = append(stamps, h.Payload.Timestamp)
	}
	return records, stamps, nil
}

func fromMetricPoints(points []domain.MetricPoint) domain.EmotionalTrajectory {
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	var recent []string
	for i, p := range points {
		xs[i] = p.Timestamp.Sub(points[0].Timestamp).Hours()
		ys[i] = p.Fields["intensity"]
		if label, ok := p.Tags["primary_emotion"]; ok {
			recent = append(recent, label)
		}
	}

	slope := regressionSlope(xs, ys)
	last := points[len(points)-1]
	return domain.EmotionalTrajectory{
		CurrentEmotion: last.Tags["primary_emotion"],
		Intensity:      last.Fields["intensity"],
		Direction:      direction(slope),
		RecentEmotions: distinct(recent),
	}
}

func fromEmotionRecords(records []domain.EmotionRecord, stamps []time.Time) domain.EmotionalTrajectory {
	type pair struct {
		at time.Time
		r  domain.EmotionRecord
	}
	pairs := make([]pair, len(records))
	for i := range records {
		pairs[i] = pair{at: stamps[i], r: records[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].at.Before(pairs[j].at) })

	xs := make([]float64, len(pairs))
	ys := make([]float64, len(pairs))
	var recent []string
	for i, p := range pairs {
		xs[i] = p.at.Sub(pairs[0].at).Hours()
		ys[i] = p.r.EmotionalIntensity
		recent = append(recent, p.r.PrimaryEmotion)
	}

	slope := regressionSlope(xs, ys)
	last := pairs[len(pairs)-1]
	return domain.EmotionalTrajectory{
		CurrentEmotion: last.r.PrimaryEmotion,
		Intensity:      last.r.EmotionalIntensity,
		Direction:      direction(slope),
		RecentEmotions: distinct(recent),
	}
}

// regressionSlope fits a simple ordinary-least-squares line over (x,y) and
// returns the slope; fewer than two points is a no-op (stable trajectory).
func regressionSlope(xs, ys []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}

func direction(slope float64) domain.TrajectoryDirection {
	switch {
	case slope > intensifyingSlope:
		return domain.TrajectoryIntensifying
	case slope < calmingSlope:
		return domain.TrajectoryCalming
	default:
		return domain.TrajectoryStable
	}
}

// maxRecentEmotions caps RecentEmotions at the spec's documented ≤10.
const maxRecentEmotions = 10

// distinct dedupes emotions (given oldest-to-newest) and caps the result at
// maxRecentEmotions, keeping the most recent distinct values.
func distinct(emotions []string) []string {
	seen := make(map[string]bool, len(emotions))
	var out []string
	for i := len(emotions) - 1; i >= 0; i-- {
		e := emotions[i]
		if e == "" || seen[e] {
			continue
		}
		if len(out) >= maxRecentEmotions {
			break
		}
		seen[e] = true
		out = append(out, e)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

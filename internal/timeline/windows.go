package timeline

import (
	"context"
	"math"
	"sort"
	"time"

	"sunspot/internal/types"
)

// Window ranking.
const (
	DefaultMaxWindows = 3
	MaxWindowsLimit   = 10

	// fullDuration is the window length that earns the full duration score.
	fullDuration = 2 * time.Hour

	durationWeight   = 0.4
	peakWeight       = 0.4
	confidenceWeight = 0.2
)

// DetectWindows collapses each run of consecutive Sunny points into a
// window. Points must be in time order and sampled every interval. Each point
// stands for the interval that follows it, so a window ends one interval
// after its last point.
func DetectWindows(patioID string, points []types.TimelinePoint, interval time.Duration) []types.SunWindow {
	var (
		windows []types.SunWindow
		current *types.SunWindow
		sum     float64
		confSum float64
		last    time.Time
	)
	flush := func() {
		if current == nil {
			return
		}
		current.AverageExposure = sum / float64(current.PointCount)
		current.Confidence = confSum / float64(current.PointCount)
		current.EndTime = last.Add(interval)
		current.Duration = current.EndTime.Sub(current.StartTime)
		windows = append(windows, *current)
		current = nil
	}

	for _, p := range points {
		if p.State != types.StateSunny {
			flush()
			continue
		}
		if current == nil {
			current = &types.SunWindow{
				PatioID:          patioID,
				Date:             p.Timestamp.UTC().Format("2006-01-02"),
				StartTime:        p.Timestamp,
				PeakExposureTime: p.Timestamp,
				MinExposure:      p.ExposurePercent,
				MaxExposure:      p.ExposurePercent,
			}
			sum, confSum = 0, 0
		}
		last = p.Timestamp
		current.PointCount++
		sum += p.ExposurePercent
		confSum += p.Confidence
		if p.ExposurePercent < current.MinExposure {
			current.MinExposure = p.ExposurePercent
		}
		if p.ExposurePercent > current.MaxExposure {
			current.MaxExposure = p.ExposurePercent
			current.PeakExposureTime = p.Timestamp
		}
	}
	flush()
	return windows
}

// PriorityScore rates a window on a 0-100 scale from its duration, peak
// exposure and confidence.
func PriorityScore(w types.SunWindow) float64 {
	durationScore := 100 * math.Min(1, float64(w.Duration)/float64(fullDuration))
	return durationWeight*durationScore + peakWeight*w.MaxExposure + confidenceWeight*w.Confidence
}

// RankWindows scores every window and orders them best first. Ties go to the
// earlier window.
func RankWindows(windows []types.SunWindow) []types.SunWindow {
	ranked := make([]types.SunWindow, len(windows))
	for i, w := range windows {
		w.PriorityScore = PriorityScore(w)
		ranked[i] = w
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].PriorityScore != ranked[j].PriorityScore {
			return ranked[i].PriorityScore > ranked[j].PriorityScore
		}
		return ranked[i].StartTime.Before(ranked[j].StartTime)
	})
	return ranked
}

// BestSunWindows returns up to maxWindows ranked sun windows for the patio
// between start and end, sampled at the cache resolution. maxWindows <= 0
// selects DefaultMaxWindows; larger values are capped at MaxWindowsLimit.
func (g *Generator) BestSunWindows(ctx context.Context, patioID string, start, end time.Time, maxWindows int) ([]types.SunWindow, error) {
	switch {
	case maxWindows <= 0:
		maxWindows = DefaultMaxWindows
	case maxWindows > MaxWindowsLimit:
		maxWindows = MaxWindowsLimit
	}

	tl, err := g.Generate(ctx, Request{PatioID: patioID, Start: start, End: end, Interval: g.source.Resolution()})
	if err != nil {
		return nil, err
	}

	ranked := RankWindows(DetectWindows(patioID, tl.Points, tl.Interval))
	if len(ranked) > maxWindows {
		ranked = ranked[:maxWindows]
	}
	return ranked, nil
}

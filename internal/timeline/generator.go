// Package timeline produces fixed-interval exposure series for a patio and
// derives ranked sun windows from them.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"sunspot/internal/exposure"
	"sunspot/internal/solar"
	"sunspot/internal/types"
)

// Range limits.
const (
	MaxRange    = 48 * time.Hour
	MinInterval = time.Minute
)

var validate = validator.New()

// Source is the exposure collaborator the generator reads from.
// *exposure.Service implements it.
type Source interface {
	LoadPatio(ctx context.Context, patioID string) (*types.PatioContext, error)
	Lookup(ctx context.Context, pc *types.PatioContext, ts time.Time) (*types.SunExposureResult, bool)
	ExposureAt(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.SunExposureResult, types.PointSource, error)
	Resolution() time.Duration
	Policy() exposure.Policy
}

// Request describes a timeline over [Start, End], both inclusive.
type Request struct {
	PatioID  string        `json:"patio_id" validate:"required"`
	Start    time.Time     `json:"start" validate:"required"`
	End      time.Time     `json:"end" validate:"required"`
	Interval time.Duration `json:"interval"`
}

// Validate checks the request before any point is computed.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
				fmt.Sprintf("%s is required", verrs[0].Field()), err,
				map[string]any{"field": verrs[0].Field()})
		}
		return types.NewAppError(types.ErrCodeValidationMissingField, "invalid timeline request", err)
	}
	if r.End.Before(r.Start) {
		return types.NewAppError(types.ErrCodeValidationTimeWindow, "end must not be before start", nil)
	}
	if r.End.Sub(r.Start) > MaxRange {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationTimeRange,
			fmt.Sprintf("timeline range exceeds %s", MaxRange), nil,
			map[string]any{"max_hours": MaxRange.Hours()})
	}
	if r.Interval < MinInterval {
		return types.NewAppError(types.ErrCodeValidationInterval,
			fmt.Sprintf("interval must be at least %s", MinInterval), nil)
	}
	return nil
}

// Generator builds timelines. It holds no per-request state.
type Generator struct {
	source Source
	logger *slog.Logger
}

// NewGenerator creates a Generator. If logger is nil, slog.Default() is used.
func NewGenerator(source Source, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{source: source, logger: logger}
}

// Points validates req, loads the patio and returns the lazy sequence of
// points. Each range over the sequence recomputes from the start, so the
// sequence can be consumed more than once. Iteration stops after the first
// error.
func (g *Generator) Points(ctx context.Context, req Request) (iter.Seq2[types.TimelinePoint, error], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pc, err := g.source.LoadPatio(ctx, req.PatioID)
	if err != nil {
		return nil, err
	}

	start := types.NormalizeInstant(req.Start)
	end := types.NormalizeInstant(req.End)

	return func(yield func(types.TimelinePoint, error) bool) {
		for ts := start; !ts.After(end); ts = ts.Add(req.Interval) {
			if err := ctx.Err(); err != nil {
				yield(types.TimelinePoint{}, err)
				return
			}
			p, err := g.point(ctx, pc, ts)
			if !yield(p, err) || err != nil {
				return
			}
		}
	}, nil
}

func (g *Generator) point(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.TimelinePoint, error) {
	if res, ok := g.source.Lookup(ctx, pc, ts); ok {
		return fromResult(*res, types.SourcePrecomputed), nil
	}
	if p, ok := g.interpolate(ctx, pc, ts); ok {
		return p, nil
	}
	res, src, err := g.source.ExposureAt(ctx, pc, ts)
	if err != nil {
		return types.TimelinePoint{}, fmt.Errorf("exposure at %s: %w", ts.Format(time.RFC3339), err)
	}
	return fromResult(res, src), nil
}

// interpolate blends the two cached buckets around an off-bucket instant.
func (g *Generator) interpolate(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.TimelinePoint, bool) {
	res := g.source.Resolution()
	if res <= 0 {
		return types.TimelinePoint{}, false
	}
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	offset := ts.Sub(midnight) % res
	if offset == 0 {
		return types.TimelinePoint{}, false
	}
	lo := ts.Add(-offset)
	hi := lo.Add(res)

	before, ok := g.source.Lookup(ctx, pc, lo)
	if !ok {
		return types.TimelinePoint{}, false
	}
	after, ok := g.source.Lookup(ctx, pc, hi)
	if !ok {
		return types.TimelinePoint{}, false
	}

	frac := float64(offset) / float64(res)
	pct := before.ExposurePercent + (after.ExposurePercent-before.ExposurePercent)*frac
	conf := before.Confidence + (after.Confidence-before.Confidence)*frac
	anchor := exposure.Anchor(pc.Patio)
	sun := solar.Position(ts, anchor.Lat(), anchor.Lon())

	return types.TimelinePoint{
		Timestamp:       ts,
		ExposurePercent: pct,
		State:           g.source.Policy().State(pct),
		Confidence:      conf,
		ElevationDeg:    sun.ElevationDeg,
		AzimuthDeg:      sun.AzimuthDeg,
		Source:          types.SourceInterpolated,
	}, true
}

func fromResult(r types.SunExposureResult, src types.PointSource) types.TimelinePoint {
	return types.TimelinePoint{
		Timestamp:       r.Timestamp,
		ExposurePercent: r.ExposurePercent,
		State:           r.State,
		Confidence:      r.Confidence,
		ElevationDeg:    r.SolarPosition.ElevationDeg,
		AzimuthDeg:      r.SolarPosition.AzimuthDeg,
		Source:          src,
	}
}

// Generate collects the full timeline for req.
func (g *Generator) Generate(ctx context.Context, req Request) (*types.Timeline, error) {
	seq, err := g.Points(ctx, req)
	if err != nil {
		return nil, err
	}

	tl := &types.Timeline{
		PatioID:   req.PatioID,
		StartTime: types.NormalizeInstant(req.Start),
		EndTime:   types.NormalizeInstant(req.End),
		Interval:  req.Interval,
		Points:    make([]types.TimelinePoint, 0, int(req.End.Sub(req.Start)/req.Interval)+1),
	}
	var confSum float64
	for p, err := range seq {
		if err != nil {
			return nil, err
		}
		tl.Points = append(tl.Points, p)
		confSum += p.Confidence
		switch p.Source {
		case types.SourcePrecomputed:
			tl.PrecomputedPointsCount++
		case types.SourceInterpolated:
			tl.InterpolatedPointsCount++
		}
	}
	if len(tl.Points) > 0 {
		tl.AverageConfidence = confSum / float64(len(tl.Points))
	}

	g.logger.DebugContext(ctx, "timeline generated",
		"patio_id", req.PatioID,
		"points", len(tl.Points),
		"precomputed", tl.PrecomputedPointsCount,
		"interpolated", tl.InterpolatedPointsCount,
	)
	return tl, nil
}

package weather

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/sony/gobreaker/v2"

	"sunspot/internal/types"
)

// GridReading is one raw sample delivered by the weather client at a grid
// point.
type GridReading struct {
	Point  orb.Point           `json:"point"`
	Sample types.WeatherSample `json:"sample"`
}

// Provider is the weather client boundary. Readings returns the grid samples
// within radiusM of point whose timestamps fall in [from, to].
type Provider interface {
	Readings(ctx context.Context, point orb.Point, radiusM float64, from, to time.Time) ([]GridReading, error)
}

// ResolverConfig tunes the Resolver.
type ResolverConfig struct {
	// MaxSampleAge is the largest gap between t and the closest timestep
	// before readings are treated as missing.
	MaxSampleAge time.Duration
	// SearchRadiusM bounds the grid neighbourhood requested from the provider.
	SearchRadiusM float64
}

// Resolver turns provider readings into a single ProcessedWeather for a point
// and instant. Provider calls go through a circuit breaker so a failing
// weather client cannot stall calculations.
type Resolver struct {
	provider Provider
	cfg      ResolverConfig
	breaker  *gobreaker.CircuitBreaker[[]GridReading]
	logger   *slog.Logger
}

// NewResolver creates a Resolver. If logger is nil, slog.Default() is used.
func NewResolver(provider Provider, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSampleAge <= 0 {
		cfg.MaxSampleAge = 3 * time.Hour
	}
	if cfg.SearchRadiusM <= 0 {
		cfg.SearchRadiusM = 15000
	}
	cb := gobreaker.NewCircuitBreaker[[]GridReading](gobreaker.Settings{
		Name:        "weather-provider",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Resolver{provider: provider, cfg: cfg, breaker: cb, logger: logger}
}

// Resolve returns the interpolated weather at point and t. It returns
// (nil, nil) when no usable reading exists; an error means the provider
// failed or its data was malformed.
func (r *Resolver) Resolve(ctx context.Context, point orb.Point, t time.Time) (*types.ProcessedWeather, error) {
	if r == nil || r.provider == nil {
		return nil, nil
	}

	readings, err := r.breaker.Execute(func() ([]GridReading, error) {
		return r.provider.Readings(ctx, point, r.cfg.SearchRadiusM,
			t.Add(-r.cfg.MaxSampleAge), t.Add(r.cfg.MaxSampleAge))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			r.logger.WarnContext(ctx, "weather provider circuit open", "error", err)
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamWeather, "failed to fetch weather readings", err)
	}
	if len(readings) == 0 {
		return nil, nil
	}

	before, after := bracket(readings, t)
	resolve := func(step []GridReading) (*types.ProcessedWeather, error) {
		if len(step) == 0 {
			return nil, nil
		}
		samples := make([]types.WeatherGridSample, len(step))
		for i, g := range step {
			samples[i] = types.WeatherGridSample{Point: g.Point, Weather: Process(g.Sample, g.Point)}
		}
		w, err := InterpolateSpatial(point, samples)
		if err != nil {
			return nil, err
		}
		return &w, nil
	}

	wb, err := resolve(before)
	if err != nil {
		return nil, err
	}
	wa, err := resolve(after)
	if err != nil {
		return nil, err
	}

	switch {
	case wb != nil && wa != nil:
		w, err := InterpolateTemporal(*wb, *wa, t)
		if err != nil {
			return nil, err
		}
		return &w, nil
	case wb != nil && t.Sub(wb.Timestamp) <= r.cfg.MaxSampleAge:
		return wb, nil
	case wa != nil && wa.Timestamp.Sub(t) <= r.cfg.MaxSampleAge:
		return wa, nil
	default:
		return nil, nil
	}
}

// bracket groups readings by timestamp and returns the latest timestep at or
// before t and the earliest timestep after it.
func bracket(readings []GridReading, t time.Time) (before, after []GridReading) {
	byTime := make(map[time.Time][]GridReading)
	var stamps []time.Time
	for _, g := range readings {
		ts := types.NormalizeInstant(g.Sample.Timestamp)
		if _, ok := byTime[ts]; !ok {
			stamps = append(stamps, ts)
		}
		byTime[ts] = append(byTime[ts], g)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	for _, ts := range stamps {
		if !ts.After(t) {
			before = byTime[ts]
			continue
		}
		after = byTime[ts]
		break
	}
	return before, after
}

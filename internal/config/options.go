package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sunspot/internal/db"
	"sunspot/internal/exposure"
	"sunspot/internal/scheduler"
	"sunspot/internal/solar"
	"sunspot/internal/weather"
)

// SlogLevel maps LOG_LEVEL onto a slog.Level. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// PoolConfig converts the database section for db.NewPool.
func (c DatabaseConfig) PoolConfig() db.PoolConfig {
	return db.PoolConfig{
		MaxConns:          int32(c.MaxConns),
		MinConns:          int32(c.MinConns),
		MaxConnLifetime:   c.MaxConnLifetime,
		HealthCheckPeriod: c.HealthCheckPeriod,
	}
}

// EngineOptions converts the engine section for exposure.NewEngine.
func (c EngineConfig) EngineOptions() exposure.Options {
	return exposure.Options{
		Policy: exposure.Policy{
			SunnyMinPct:   c.SunnyThresholdPct,
			PartialMinPct: c.ShadedThresholdPct,
		},
		ReliabilityDeg: c.ReliabilityDeg,
		SearchRadiusM:  c.SearchRadiusM,
		Reference:      solar.NewCalculator(c.ReferenceLatitude, c.ReferenceLongitude),
	}
}

// ResolverConfig converts the weather section for weather.NewResolver.
func (c WeatherConfig) ResolverConfig() weather.ResolverConfig {
	return weather.ResolverConfig{
		MaxSampleAge:  c.MaxSampleAge,
		SearchRadiusM: c.SearchRadiusM,
	}
}

// PrecomputeOptions converts the precompute section. It fails when the
// timezone is unknown or the window bounds do not parse.
func (c PrecomputeConfig) PrecomputeOptions() (scheduler.PrecomputeOptions, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return scheduler.PrecomputeOptions{}, fmt.Errorf("loading precompute timezone %q: %w", c.Timezone, err)
	}
	start, err := scheduler.ParseTimeOfDay(c.WindowStart)
	if err != nil {
		return scheduler.PrecomputeOptions{}, fmt.Errorf("window start: %w", err)
	}
	end, err := scheduler.ParseTimeOfDay(c.WindowEnd)
	if err != nil {
		return scheduler.PrecomputeOptions{}, fmt.Errorf("window end: %w", err)
	}
	if end < start {
		return scheduler.PrecomputeOptions{}, fmt.Errorf("precompute window ends (%s) before it starts (%s)", c.WindowEnd, c.WindowStart)
	}
	return scheduler.PrecomputeOptions{
		Location:       loc,
		WindowStart:    start,
		WindowEnd:      end,
		Resolution:     c.Resolution,
		DaysAhead:      c.DaysAhead,
		Concurrency:    c.Concurrency,
		MaxRetries:     c.MaxRetries,
		AbandonAfter:   c.AbandonAfter,
		RetryBaseDelay: c.RetryBaseDelay,
		RetryMaxDelay:  c.RetryMaxDelay,
	}, nil
}

package db

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"sunspot/internal/types"
	"sunspot/internal/weather"
)

// WeatherSampleRepository reads the grid samples ingested by the weather
// client. It implements weather.Provider.
type WeatherSampleRepository struct {
	db DBTX
}

// NewWeatherSampleRepository creates a WeatherSampleRepository.
func NewWeatherSampleRepository(db DBTX) *WeatherSampleRepository {
	return &WeatherSampleRepository{db: db}
}

// Readings returns the samples within radiusM of point valid in [from, to],
// ordered by time.
func (r *WeatherSampleRepository) Readings(ctx context.Context, point orb.Point, radiusM float64, from, to time.Time) ([]weather.GridReading, error) {
	rows, err := r.db.Query(ctx,
		`SELECT ST_X(location), ST_Y(location), valid_at, cloud_cover_pct,
		        precip_probability, temperature_c, visibility_m, is_forecast,
		        source, forecast_horizon_s
		 FROM weather_samples
		 WHERE ST_DWithin(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		   AND valid_at BETWEEN $4 AND $5
		 ORDER BY valid_at, source`,
		point.Lon(),
		point.Lat(),
		radiusM,
		from.UTC(),
		to.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query weather samples", err)
	}
	defer rows.Close()

	var out []weather.GridReading
	for rows.Next() {
		var (
			g        weather.GridReading
			lon, lat float64
			horizonS int64
		)
		if err := rows.Scan(
			&lon,
			&lat,
			&g.Sample.Timestamp,
			&g.Sample.CloudCoverPct,
			&g.Sample.PrecipProbability,
			&g.Sample.TemperatureC,
			&g.Sample.VisibilityM,
			&g.Sample.IsForecast,
			&g.Sample.Source,
			&horizonS,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan weather sample", err)
		}
		g.Point = orb.Point{lon, lat}
		g.Sample.ForecastHorizon = time.Duration(horizonS) * time.Second
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating weather samples", err)
	}
	return out, nil
}

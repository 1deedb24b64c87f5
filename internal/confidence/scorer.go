// Package confidence blends geometry and weather signals into the 0-100
// confidence attached to every exposure result.
package confidence

import (
	"fmt"
	"math"

	"sunspot/internal/types"
)

// Blend weights and caps.
const (
	GeometryWeight = 0.6
	WeatherWeight  = 0.4

	CapForecast     = 90.0
	CapNowcast      = 95.0
	CapNoWeather    = 60.0
	CapPoorBuilding = 70.0

	PoorBuildingQuality = 0.5
	HighThreshold       = 70.0
	MediumThreshold     = 40.0

	// neutralCloudCertainty stands in for cloud certainty when no weather
	// reading exists.
	neutralCloudCertainty = 0.5
)

// GeometrySignals are the 0..1 quality inputs from geometry and solar
// calculations.
type GeometrySignals struct {
	BuildingDataQuality float64
	GeometryPrecision   float64
	SolarAccuracy       float64
	ShadowAccuracy      float64
}

// WeatherSignals describe the weather reading attached to a result. Weather
// is nil when no reading was available.
type WeatherSignals struct {
	Weather *types.ProcessedWeather
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// GeometryQuality combines the geometry signals with fixed weights.
func GeometryQuality(g GeometrySignals) float64 {
	return 0.3*clamp01(g.BuildingDataQuality) +
		0.3*clamp01(g.GeometryPrecision) +
		0.2*clamp01(g.SolarAccuracy) +
		0.2*clamp01(g.ShadowAccuracy)
}

// CloudCertainty is how sure the weather reading is about direct sun: the
// reading's own confidence, reduced when cloud cover sits in the ambiguous
// middle of the range.
func CloudCertainty(w *types.ProcessedWeather) float64 {
	if w == nil {
		return neutralCloudCertainty
	}
	// 1.0 at clear or fully overcast skies, 0.6 at 50% cover.
	ambiguity := 1 - 0.4*(1-math.Abs(w.NormalizedCloudCoverPct-50)/50)
	return clamp01(w.ConfidenceLevel * ambiguity)
}

// Categorize buckets an overall confidence. Boundaries belong to the higher
// band.
func Categorize(overall float64) types.ConfidenceCategory {
	switch {
	case overall >= HighThreshold:
		return types.ConfidenceHigh
	case overall >= MediumThreshold:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

// Score computes the full confidence breakdown.
func Score(g GeometrySignals, w WeatherSignals) types.ConfidenceFactors {
	geometry := GeometryQuality(g)
	cloud := CloudCertainty(w.Weather)

	overall := 100 * (GeometryWeight*geometry + WeatherWeight*cloud)

	limit := CapNowcast
	switch {
	case w.Weather == nil:
		limit = CapNoWeather
	case w.Weather.IsForecast:
		limit = CapForecast
	}
	if clamp01(g.BuildingDataQuality) < PoorBuildingQuality {
		limit = math.Min(limit, CapPoorBuilding)
	}
	overall = math.Max(0, math.Min(limit, overall))

	limiter, explanation := Explain(geometry, cloud, w.Weather == nil)

	return types.ConfidenceFactors{
		BuildingDataQuality: clamp01(g.BuildingDataQuality),
		GeometryPrecision:   clamp01(g.GeometryPrecision),
		SolarAccuracy:       clamp01(g.SolarAccuracy),
		ShadowAccuracy:      clamp01(g.ShadowAccuracy),
		GeometryQuality:     geometry,
		CloudCertainty:      cloud,
		OverallConfidence:   overall,
		Category:            Categorize(overall),
		Limiter:             limiter,
		Explanation:         explanation,
	}
}

// Explain names which side of the blend holds confidence down.
func Explain(geometry, cloud float64, weatherMissing bool) (types.ConfidenceLimiter, string) {
	const weak = 0.6
	switch {
	case weatherMissing && geometry < weak:
		return types.LimiterBoth, "No weather data and limited building data; treat this as a rough estimate."
	case weatherMissing:
		return types.LimiterWeather, "No current weather data; sun exposure is based on geometry alone."
	case geometry < weak && cloud < weak:
		return types.LimiterBoth, "Both building data and weather certainty are low."
	case geometry < cloud-0.1:
		return types.LimiterGeometry, fmt.Sprintf("Limited by building and geometry data quality (%.0f%%).", geometry*100)
	case cloud < geometry-0.1:
		return types.LimiterWeather, fmt.Sprintf("Limited by weather certainty (%.0f%%).", cloud*100)
	default:
		return types.LimiterNone, "Geometry and weather data are both reliable."
	}
}

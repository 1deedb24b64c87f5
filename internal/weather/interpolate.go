// Package weather normalizes raw weather readings and interpolates them to a
// patio's location and instant. Weather never changes the geometric exposure;
// it feeds the confidence score.
package weather

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"sunspot/internal/types"
)

// Thresholds that decide whether weather blocks direct sun.
const (
	SunBlockingPrecip = 0.1
	SunBlockingCloud  = 80.0

	// minSurroundingSamples is the smallest grid neighbourhood that is blended
	// with inverse-distance weights; smaller sets use the nearest sample.
	minSurroundingSamples = 4
	// exactMatchMeters treats a sample this close to the target as exact.
	exactMatchMeters = 0.01
)

// Confidence levels attached to processed readings.
const (
	NowcastConfidence     = 0.95
	ForecastConfidence    = 0.90
	ForecastDecayPerHour  = 0.01
	ForecastConfidenceMin = 0.50
)

// IsSunBlocking reports whether the blended reading blocks direct sun.
func IsSunBlocking(precipIntensity, cloudCoverPct float64) bool {
	return precipIntensity > SunBlockingPrecip || cloudCoverPct > SunBlockingCloud
}

// Classify derives the sky condition from cloud cover and precipitation.
func Classify(cloudCoverPct, precipIntensity float64) types.WeatherCondition {
	switch {
	case precipIntensity > SunBlockingPrecip:
		return types.ConditionPrecipitation
	case cloudCoverPct <= 10:
		return types.ConditionClear
	case cloudCoverPct <= 50:
		return types.ConditionPartlyCloudy
	case cloudCoverPct <= SunBlockingCloud:
		return types.ConditionCloudy
	default:
		return types.ConditionOvercast
	}
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// Process normalizes a raw sample observed at location.
func Process(s types.WeatherSample, location orb.Point) types.ProcessedWeather {
	cloud := clamp(s.CloudCoverPct, 0, 100)
	precip := clamp(s.PrecipProbability/100, 0, 1)

	conf := NowcastConfidence
	if s.IsForecast {
		conf = math.Max(ForecastConfidenceMin, ForecastConfidence-ForecastDecayPerHour*s.ForecastHorizon.Hours())
	}

	return types.ProcessedWeather{
		Timestamp:               types.NormalizeInstant(s.Timestamp),
		NormalizedCloudCoverPct: cloud,
		PrecipitationIntensity:  precip,
		Condition:               Classify(cloud, precip),
		IsSunBlocking:           IsSunBlocking(precip, cloud),
		ConfidenceLevel:         conf,
		Location:                location,
		IsForecast:              s.IsForecast,
		Source:                  s.Source,
	}
}

func rederive(w types.ProcessedWeather) types.ProcessedWeather {
	w.Condition = Classify(w.NormalizedCloudCoverPct, w.PrecipitationIntensity)
	w.IsSunBlocking = IsSunBlocking(w.PrecipitationIntensity, w.NormalizedCloudCoverPct)
	return w
}

func invalidWeather(msg string) error {
	return types.NewAppError(types.ErrCodeValidationInvalidWeather, msg, nil)
}

// InterpolateSpatial estimates the weather at target from grid samples.
//
// A single sample is returned verbatim, relocated to target. A sample at the
// target's exact location wins outright. Four or more samples whose bounds
// contain the target are blended with 1/d weights; anything else falls back
// to the nearest sample.
func InterpolateSpatial(target orb.Point, samples []types.WeatherGridSample) (types.ProcessedWeather, error) {
	if len(samples) == 0 {
		return types.ProcessedWeather{}, invalidWeather("no weather samples to interpolate")
	}
	if err := types.ValidateCoordinate(target); err != nil {
		return types.ProcessedWeather{}, err
	}
	for _, s := range samples {
		if err := types.ValidateCoordinate(s.Point); err != nil {
			return types.ProcessedWeather{}, fmt.Errorf("weather sample location: %w", err)
		}
	}

	if len(samples) == 1 {
		w := samples[0].Weather
		w.Location = target
		return w, nil
	}

	dists := make([]float64, len(samples))
	nearest := 0
	for i, s := range samples {
		dists[i] = geo.Distance(target, s.Point)
		if dists[i] < dists[nearest] {
			nearest = i
		}
	}

	if dists[nearest] < exactMatchMeters || len(samples) < minSurroundingSamples || !surrounds(samples, target) {
		w := samples[nearest].Weather
		w.Location = target
		return w, nil
	}

	var wSum, cloud, precip, conf float64
	forecast := false
	for i, s := range samples {
		weight := 1 / dists[i]
		wSum += weight
		cloud += weight * s.Weather.NormalizedCloudCoverPct
		precip += weight * s.Weather.PrecipitationIntensity
		conf += weight * s.Weather.ConfidenceLevel
		forecast = forecast || s.Weather.IsForecast
	}

	w := samples[nearest].Weather
	w.NormalizedCloudCoverPct = cloud / wSum
	w.PrecipitationIntensity = precip / wSum
	w.ConfidenceLevel = conf / wSum
	w.IsForecast = forecast
	w.Location = target
	return rederive(w), nil
}

func surrounds(samples []types.WeatherGridSample, target orb.Point) bool {
	b := orb.Bound{Min: samples[0].Point, Max: samples[0].Point}
	for _, s := range samples[1:] {
		b = b.Extend(s.Point)
	}
	return b.Contains(target)
}

// InterpolateTemporal estimates the weather at t from the samples on either
// side of it. Targets outside [before, after] get the boundary sample back
// unchanged; there is no extrapolation.
func InterpolateTemporal(before, after types.ProcessedWeather, t time.Time) (types.ProcessedWeather, error) {
	if after.Timestamp.Before(before.Timestamp) {
		return types.ProcessedWeather{}, invalidWeather(fmt.Sprintf(
			"weather samples out of order: %s after %s",
			before.Timestamp.Format(time.RFC3339), after.Timestamp.Format(time.RFC3339)))
	}
	if !t.After(before.Timestamp) {
		return before, nil
	}
	if !t.Before(after.Timestamp) {
		return after, nil
	}

	span := after.Timestamp.Sub(before.Timestamp)
	frac := float64(t.Sub(before.Timestamp)) / float64(span)
	lerp := func(a, b float64) float64 { return a + (b-a)*frac }

	w := before
	w.Timestamp = types.NormalizeInstant(t)
	w.NormalizedCloudCoverPct = lerp(before.NormalizedCloudCoverPct, after.NormalizedCloudCoverPct)
	w.PrecipitationIntensity = lerp(before.PrecipitationIntensity, after.PrecipitationIntensity)
	w.ConfidenceLevel = lerp(before.ConfidenceLevel, after.ConfidenceLevel)
	w.IsForecast = before.IsForecast || after.IsForecast
	if frac >= 0.5 {
		w.Source = after.Source
	}
	return rederive(w), nil
}

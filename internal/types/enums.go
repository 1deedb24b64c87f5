package types

// HeightSource records where a building's height value came from.
type HeightSource string

const (
	HeightSurveyed        HeightSource = "surveyed"
	HeightExternalDataset HeightSource = "external_dataset"
	HeightAdminOverride   HeightSource = "admin_override"
	HeightHeuristic       HeightSource = "heuristic"
)

// HeightSourceConfidence is the base shadow confidence for each height source.
// Unknown sources fall back to the heuristic value.
var HeightSourceConfidence = map[HeightSource]float64{
	HeightSurveyed:        1.00,
	HeightAdminOverride:   0.95,
	HeightExternalDataset: 0.85,
	HeightHeuristic:       0.70,
}

// BaseConfidence returns the lookup-table confidence for the source.
func (h HeightSource) BaseConfidence() float64 {
	if c, ok := HeightSourceConfidence[h]; ok {
		return c
	}
	return HeightSourceConfidence[HeightHeuristic]
}

// IsValid reports whether h is one of the known height sources.
func (h HeightSource) IsValid() bool {
	_, ok := HeightSourceConfidence[h]
	return ok
}

// WeatherCondition is the coarse sky classification derived from cloud cover
// and precipitation.
type WeatherCondition string

const (
	ConditionClear         WeatherCondition = "clear"
	ConditionPartlyCloudy  WeatherCondition = "partly_cloudy"
	ConditionCloudy        WeatherCondition = "cloudy"
	ConditionOvercast      WeatherCondition = "overcast"
	ConditionPrecipitation WeatherCondition = "precipitation"
)

// ConfidenceCategory buckets an overall confidence percentage.
type ConfidenceCategory string

const (
	ConfidenceHigh   ConfidenceCategory = "high"
	ConfidenceMedium ConfidenceCategory = "medium"
	ConfidenceLow    ConfidenceCategory = "low"
)

// ExposureState is the user-facing classification of an exposure percentage.
type ExposureState string

const (
	StateSunny   ExposureState = "sunny"
	StatePartial ExposureState = "partial"
	StateShaded  ExposureState = "shaded"
)

// PointSource identifies how a timeline point was obtained.
type PointSource string

const (
	SourcePrecomputed  PointSource = "precomputed"
	SourceInterpolated PointSource = "interpolated"
	SourceCalculated   PointSource = "calculated"
)

// ScheduleStatus is the lifecycle state of a precomputation run.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "pending"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

// IsTerminal reports whether the run has finished, successfully or not.
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCompleted || s == ScheduleStatusFailed
}

// ConfidenceLimiter names the dominant factor holding confidence down.
type ConfidenceLimiter string

const (
	LimiterNone     ConfidenceLimiter = "balanced"
	LimiterGeometry ConfidenceLimiter = "geometry_limited"
	LimiterWeather  ConfidenceLimiter = "weather_limited"
	LimiterBoth     ConfidenceLimiter = "both_unavailable"
)

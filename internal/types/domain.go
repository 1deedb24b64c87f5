package types

import (
	"time"

	"github.com/paulmach/orb"
)

// GeoPoint is a (longitude, latitude) pair in WGS84 degrees.
type GeoPoint = orb.Point

// GeoPolygon is an outer ring followed by zero or more hole rings, each an
// ordered, closed list of (longitude, latitude) points.
type GeoPolygon = orb.Polygon

// Building is a 2.5D obstruction: a footprint extruded to a single height.
// Buildings are loaded read-only for a calculation and never mutated.
type Building struct {
	ID           string       `json:"id" db:"id"`
	Footprint    GeoPolygon   `json:"footprint" db:"footprint"`
	HeightMeters float64      `json:"height_meters" db:"height_meters"`
	HeightSource HeightSource `json:"height_source" db:"height_source"`
	QualityScore float64      `json:"quality_score" db:"quality_score"`
}

// Patio is the ground polygon whose sun exposure is calculated.
type Patio struct {
	ID             string     `json:"id" db:"id"`
	VenueID        string     `json:"venue_id,omitempty" db:"venue_id"`
	Name           string     `json:"name,omitempty" db:"name"`
	Footprint      GeoPolygon `json:"footprint" db:"footprint"`
	HeightMeters   *float64   `json:"height_meters,omitempty" db:"height_meters"`
	PolygonQuality float64    `json:"polygon_quality" db:"polygon_quality"`
	Orientation    *string    `json:"orientation,omitempty" db:"orientation"`
}

// PatioContext is everything the engine needs to evaluate one patio: the
// patio itself, the buildings near it, and the geometry version of the
// combination so cached results can be checked for staleness.
type PatioContext struct {
	Patio           Patio      `json:"patio"`
	Buildings       []Building `json:"buildings"`
	GeometryVersion int64      `json:"geometry_version"`
}

// SolarPosition is the apparent position of the sun for one instant and place.
// Elevation is in [-90, 90] and azimuth in [0, 360), clockwise from north.
type SolarPosition struct {
	Timestamp    time.Time `json:"timestamp"`
	ElevationDeg float64   `json:"elevation_deg"`
	AzimuthDeg   float64   `json:"azimuth_deg"`
}

// IsAboveHorizon reports whether the sun is up.
func (p SolarPosition) IsAboveHorizon() bool {
	return p.ElevationDeg > 0
}

// ShadowProjection is the ground shadow cast by one building at one instant.
// ShadowPolygon is the convex outline of the shadow. For non-convex
// footprints the outline also covers the building's notches, and
// ShadowPieces holds the exact shadow as a union of convex pieces.
type ShadowProjection struct {
	BuildingID    string           `json:"building_id,omitempty"`
	SourcePolygon GeoPolygon       `json:"source_polygon"`
	HeightMeters  float64          `json:"height_meters"`
	ShadowPolygon GeoPolygon       `json:"shadow_polygon"`
	ShadowPieces  orb.MultiPolygon `json:"shadow_pieces,omitempty"`
	LengthMeters  float64          `json:"length_meters"`
	Confidence    float64          `json:"confidence"`
}

// WeatherSample is a raw weather reading as delivered by the weather client.
// CloudCoverPct and PrecipProbability are percentages (0-100).
type WeatherSample struct {
	Timestamp         time.Time `json:"timestamp" db:"valid_at"`
	CloudCoverPct     float64   `json:"cloud_cover_pct" db:"cloud_cover_pct"`
	PrecipProbability float64   `json:"precip_probability" db:"precip_probability"`
	TemperatureC      float64   `json:"temperature_c" db:"temperature_c"`
	VisibilityM       float64   `json:"visibility_m" db:"visibility_m"`
	IsForecast        bool      `json:"is_forecast" db:"is_forecast"`
	Source            string    `json:"source" db:"source"`
	// ForecastHorizon is the lead time of a forecast sample. Zero for observations.
	ForecastHorizon time.Duration `json:"forecast_horizon,omitempty" db:"forecast_horizon"`
}

// ProcessedWeather is a normalized, location-bound weather reading.
// PrecipitationIntensity is expressed on a 0..1 scale.
type ProcessedWeather struct {
	Timestamp               time.Time        `json:"timestamp"`
	NormalizedCloudCoverPct float64          `json:"normalized_cloud_cover_pct"`
	PrecipitationIntensity  float64          `json:"precipitation_intensity"`
	Condition               WeatherCondition `json:"condition"`
	IsSunBlocking           bool             `json:"is_sun_blocking"`
	ConfidenceLevel         float64          `json:"confidence_level"`
	Location                GeoPoint         `json:"location"`
	IsForecast              bool             `json:"is_forecast"`
	Source                  string           `json:"source,omitempty"`
}

// WeatherGridSample pairs a processed reading with the grid point it was
// observed at.
type WeatherGridSample struct {
	Point   GeoPoint         `json:"point"`
	Weather ProcessedWeather `json:"weather"`
}

package types

import "time"

// ConfidenceFactors is the breakdown behind an exposure confidence score.
// All factors are 0..1 except OverallConfidence, which is 0..100.
type ConfidenceFactors struct {
	BuildingDataQuality float64            `json:"building_data_quality"`
	GeometryPrecision   float64            `json:"geometry_precision"`
	SolarAccuracy       float64            `json:"solar_accuracy"`
	ShadowAccuracy      float64            `json:"shadow_accuracy"`
	GeometryQuality     float64            `json:"geometry_quality"`
	CloudCertainty      float64            `json:"cloud_certainty"`
	OverallConfidence   float64            `json:"overall_confidence"`
	Category            ConfidenceCategory `json:"category"`
	Limiter             ConfidenceLimiter  `json:"limiter"`
	Explanation         string             `json:"explanation"`
}

// SunExposureResult is the outcome of one (patio, timestamp) calculation.
type SunExposureResult struct {
	PatioID             string             `json:"patio_id"`
	Timestamp           time.Time          `json:"timestamp"`
	ExposurePercent     float64            `json:"exposure_percent"`
	State               ExposureState      `json:"state"`
	Confidence          float64            `json:"confidence"`
	SunlitAreaSqM       float64            `json:"sunlit_area_sqm"`
	ShadedAreaSqM       float64            `json:"shaded_area_sqm"`
	SolarPosition       SolarPosition      `json:"solar_position"`
	Shadows             []ShadowProjection `json:"shadows,omitempty"`
	ConfidenceBreakdown ConfidenceFactors  `json:"confidence_breakdown"`
	Weather             *ProcessedWeather  `json:"weather,omitempty"`
}

// CachedExposure is a stored SunExposureResult with its lifecycle metadata.
type CachedExposure struct {
	Result             SunExposureResult `json:"result"`
	ComputedAt         time.Time         `json:"computed_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	IsStale            bool              `json:"is_stale"`
	ComputationVersion string            `json:"computation_version"`
	GeometryVersion    int64             `json:"geometry_version"`
}

// IsExpired reports whether the entry has passed its expiry at now.
func (c CachedExposure) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TimelinePoint is one sample in a Timeline.
type TimelinePoint struct {
	Timestamp       time.Time     `json:"timestamp"`
	ExposurePercent float64       `json:"exposure_percent"`
	State           ExposureState `json:"state"`
	Confidence      float64       `json:"confidence"`
	ElevationDeg    float64       `json:"elevation_deg"`
	AzimuthDeg      float64       `json:"azimuth_deg"`
	Source          PointSource   `json:"source"`
}

// Timeline is a fixed-interval series of exposure points for one patio.
type Timeline struct {
	PatioID                 string          `json:"patio_id"`
	StartTime               time.Time       `json:"start_time"`
	EndTime                 time.Time       `json:"end_time"`
	Interval                time.Duration   `json:"interval"`
	Points                  []TimelinePoint `json:"points"`
	PrecomputedPointsCount  int             `json:"precomputed_points_count"`
	InterpolatedPointsCount int             `json:"interpolated_points_count"`
	AverageConfidence       float64         `json:"average_confidence"`
}

// SunWindow is a contiguous run of Sunny timeline points.
type SunWindow struct {
	PatioID          string        `json:"patio_id"`
	Date             string        `json:"date"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	PeakExposureTime time.Time     `json:"peak_exposure_time"`
	MinExposure      float64       `json:"min_exposure"`
	MaxExposure      float64       `json:"max_exposure"`
	AverageExposure  float64       `json:"average_exposure"`
	Confidence       float64       `json:"confidence"`
	PriorityScore    float64       `json:"priority_score"`
	Duration         time.Duration `json:"duration"`
	PointCount       int           `json:"point_count"`
}

// PatioFailure records why one patio could not be precomputed in a run.
type PatioFailure struct {
	PatioID  string `json:"patio_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// PrecomputationSchedule tracks one precomputation run for one target date.
type PrecomputationSchedule struct {
	ID              string         `json:"id" db:"id"`
	TargetDate      string         `json:"target_date" db:"target_date"`
	Status          ScheduleStatus `json:"status" db:"status"`
	Targeted        bool           `json:"targeted" db:"targeted"`
	PatiosTotal     int            `json:"patios_total" db:"patios_total"`
	PatiosProcessed int            `json:"patios_processed" db:"patios_processed"`
	PatiosFailed    int            `json:"patios_failed" db:"patios_failed"`
	BucketsWritten  int            `json:"buckets_written" db:"buckets_written"`
	BucketsSkipped  int            `json:"buckets_skipped" db:"buckets_skipped"`
	RetryCount      int            `json:"retry_count" db:"retry_count"`
	Failures        []PatioFailure `json:"failures,omitempty" db:"failures"`
	ErrorMessage    string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// RecomputeMessage is the SQS payload asking workers to refresh cached
// exposures after a geometry change.
type RecomputeMessage struct {
	BatchID     string    `json:"batch_id"`
	PatioIDs    []string  `json:"patio_ids"`
	Dates       []string  `json:"dates"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

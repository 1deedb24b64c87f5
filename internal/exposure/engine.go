// Package exposure calculates how much of a patio is in direct sun at an
// instant, and serves those results through a cache-first service.
package exposure

import (
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"sunspot/internal/confidence"
	"sunspot/internal/geo"
	"sunspot/internal/shadow"
	"sunspot/internal/solar"
	"sunspot/internal/types"
)

// Default exposure thresholds, in percent of patio area.
const (
	DefaultSunnyMinPct   = 70.0
	DefaultPartialMinPct = 10.0

	// DefaultSearchRadiusM bounds which buildings are considered for a patio.
	DefaultSearchRadiusM = 300.0
)

// Policy maps an exposure percentage to a state. Values at a threshold belong
// to the brighter state.
type Policy struct {
	SunnyMinPct   float64
	PartialMinPct float64
}

// DefaultPolicy returns the 70 / 10 policy.
func DefaultPolicy() Policy {
	return Policy{SunnyMinPct: DefaultSunnyMinPct, PartialMinPct: DefaultPartialMinPct}
}

// State classifies pct.
func (p Policy) State(pct float64) types.ExposureState {
	switch {
	case pct >= p.SunnyMinPct:
		return types.StateSunny
	case pct >= p.PartialMinPct:
		return types.StatePartial
	default:
		return types.StateShaded
	}
}

func (p Policy) validate() error {
	if p.PartialMinPct < 0 || p.SunnyMinPct > 100 || p.PartialMinPct > p.SunnyMinPct {
		return fmt.Errorf("invalid exposure policy: partial %.1f, sunny %.1f", p.PartialMinPct, p.SunnyMinPct)
	}
	return nil
}

// Options configures an Engine.
type Options struct {
	Policy Policy
	// ReliabilityDeg is the solar elevation below which shadows are not
	// trusted and the patio is reported as shaded.
	ReliabilityDeg float64
	// SearchRadiusM drops buildings farther than this from the patio centroid.
	SearchRadiusM float64
	// Reference is used for the solar position when a patio has no usable
	// anchor point.
	Reference solar.Calculator
}

// Engine is the pure exposure calculation. It holds only configuration and is
// safe for concurrent use.
type Engine struct {
	calculator    solar.Calculator
	projector     shadow.Projector
	policy        Policy
	searchRadiusM float64
}

// NewEngine builds an Engine, filling unset options with defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if err := opts.Policy.validate(); err != nil {
		return nil, err
	}
	if opts.SearchRadiusM <= 0 {
		opts.SearchRadiusM = DefaultSearchRadiusM
	}
	if opts.Reference == (solar.Calculator{}) {
		opts.Reference = solar.NewCalculator(solar.DefaultReferenceLat, solar.DefaultReferenceLon)
	}
	return &Engine{
		calculator:    opts.Reference,
		projector:     shadow.NewProjector(opts.ReliabilityDeg),
		policy:        opts.Policy,
		searchRadiusM: opts.SearchRadiusM,
	}, nil
}

// Policy returns the engine's exposure policy.
func (e *Engine) Policy() Policy { return e.policy }

// Input is one (patio, instant) calculation request. Weather is nil when no
// reading is available.
type Input struct {
	Patio     types.Patio
	Buildings []types.Building
	Timestamp time.Time
	Weather   *types.ProcessedWeather
}

// Validate rejects inputs the engine refuses to compute. Geometry is never
// repaired.
func (e *Engine) Validate(in Input) error {
	if in.Patio.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "patio id is required", nil)
	}
	if in.Timestamp.IsZero() {
		return types.NewAppError(types.ErrCodeValidationMissingField, "timestamp is required", nil)
	}
	if err := geo.ValidatePolygon(in.Patio.Footprint); err != nil {
		return fmt.Errorf("patio %s: %w", in.Patio.ID, err)
	}
	for _, b := range in.Buildings {
		if err := geo.ValidatePolygon(b.Footprint); err != nil {
			return fmt.Errorf("building %s: %w", b.ID, err)
		}
		if math.IsNaN(b.HeightMeters) || math.IsInf(b.HeightMeters, 0) || b.HeightMeters < 0 {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidGeometry,
				"building height must be a finite, non-negative number", nil,
				map[string]any{"building_id": b.ID})
		}
	}
	return nil
}

// Anchor returns the point the sun is evaluated at for a patio: its area
// centroid.
func Anchor(p types.Patio) orb.Point {
	if len(p.Footprint) == 0 {
		return orb.Point{}
	}
	c, _ := planar.CentroidArea(orb.Polygon{p.Footprint[0]})
	return c
}

// Calculate validates the input, computes the solar position at the patio
// and returns the exposure result.
func (e *Engine) Calculate(in Input) (types.SunExposureResult, error) {
	if err := e.Validate(in); err != nil {
		return types.SunExposureResult{}, err
	}
	anchor := Anchor(in.Patio)
	sun := e.calculator.PositionAt(in.Timestamp, anchor)
	return e.calculate(in, anchor, sun), nil
}

// CalculateWithSun is Calculate with a caller-supplied solar position.
func (e *Engine) CalculateWithSun(in Input, sun types.SolarPosition) (types.SunExposureResult, error) {
	if err := e.Validate(in); err != nil {
		return types.SunExposureResult{}, err
	}
	return e.calculate(in, Anchor(in.Patio), sun), nil
}

func (e *Engine) calculate(in Input, anchor orb.Point, sun types.SolarPosition) types.SunExposureResult {
	ts := types.NormalizeInstant(in.Timestamp)
	sun.Timestamp = ts

	plane := geo.NewPlane(anchor)
	rings := plane.Polygon(in.Patio.Footprint)
	outer, holes := rings[0], rings[1:]
	area := geo.PolygonArea(outer, holes)

	nearby := e.nearby(plane, in.Buildings)

	var (
		projections []types.ShadowProjection
		shadows     []geo.Ring
	)
	if e.projector.Reliable(sun) {
		for _, b := range nearby {
			b.HeightMeters = effectiveHeight(b, in.Patio)
			proj, pieces, ok := e.projector.Project(plane, b, sun)
			if !ok || !touches(outer, pieces) {
				continue
			}
			projections = append(projections, proj)
			shadows = append(shadows, pieces...)
		}
	}

	var sunlit, pct float64
	if e.projector.Reliable(sun) && area > 0 {
		sunlit = geo.SunlitArea(outer, holes, shadows)
		pct = math.Max(0, math.Min(100, 100*sunlit/area))
	}

	factors := confidence.Score(e.geometrySignals(in.Patio, nearby, projections, sun),
		confidence.WeatherSignals{Weather: in.Weather})

	var weather *types.ProcessedWeather
	if in.Weather != nil {
		w := *in.Weather
		weather = &w
	}

	return types.SunExposureResult{
		PatioID:             in.Patio.ID,
		Timestamp:           ts,
		ExposurePercent:     pct,
		State:               e.policy.State(pct),
		Confidence:          factors.OverallConfidence,
		SunlitAreaSqM:       sunlit,
		ShadedAreaSqM:       math.Max(0, area-sunlit),
		SolarPosition:       sun,
		Shadows:             projections,
		ConfidenceBreakdown: factors,
		Weather:             weather,
	}
}

// touches reports whether any shadow piece overlaps the patio outline.
func touches(outer geo.Ring, pieces []geo.Ring) bool {
	for _, piece := range pieces {
		if geo.ClipToConvex(outer, piece).Area() > 0 {
			return true
		}
	}
	return false
}

// nearby keeps the buildings whose bounding box comes within the search
// radius of the plane origin.
func (e *Engine) nearby(plane geo.Plane, buildings []types.Building) []types.Building {
	out := make([]types.Building, 0, len(buildings))
	for _, b := range buildings {
		if len(b.Footprint) == 0 {
			continue
		}
		lo, hi := plane.Ring(b.Footprint[0]).Bounds()
		dx := math.Max(0, math.Max(lo.X, -hi.X))
		dy := math.Max(0, math.Max(lo.Y, -hi.Y))
		if math.Hypot(dx, dy) <= e.searchRadiusM {
			out = append(out, b)
		}
	}
	return out
}

// effectiveHeight is the part of the building that rises above an elevated
// patio.
func effectiveHeight(b types.Building, p types.Patio) float64 {
	if p.HeightMeters == nil {
		return b.HeightMeters
	}
	return math.Max(0, b.HeightMeters-*p.HeightMeters)
}

func (e *Engine) geometrySignals(p types.Patio, nearby []types.Building, shadows []types.ShadowProjection, sun types.SolarPosition) confidence.GeometrySignals {
	buildingQuality := 1.0
	if len(nearby) > 0 {
		var sum float64
		for _, b := range nearby {
			sum += b.QualityScore
		}
		buildingQuality = sum / float64(len(nearby))
	}

	shadowAccuracy := 1.0
	if len(shadows) > 0 {
		var sum float64
		for _, s := range shadows {
			sum += s.Confidence
		}
		shadowAccuracy = sum / float64(len(shadows))
	}

	return confidence.GeometrySignals{
		BuildingDataQuality: buildingQuality,
		GeometryPrecision:   p.PolygonQuality,
		SolarAccuracy:       solar.Accuracy(sun.ElevationDeg),
		ShadowAccuracy:      shadowAccuracy,
	}
}

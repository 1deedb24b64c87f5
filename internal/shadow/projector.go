// Package shadow projects 2.5D building footprints into ground shadows.
//
// A building is its footprint extruded to a single height. For a sun at
// elevation e and azimuth a, the roof outline lands height/tan(e) metres away
// in the direction opposite the sun. For a convex footprint the shadow is the
// hull of the footprint and that translated copy, so it always stays attached
// to the building. A non-convex footprint is split into triangles first and
// each triangle is swept the same way; the union of those convex pieces is
// the exact shadow of the extruded prism.
package shadow

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"sunspot/internal/geo"
	"sunspot/internal/types"
)

// Defaults for the projector thresholds.
const (
	DefaultReliabilityDeg = 5.0
	DefaultLowSunDeg      = 10.0
	DefaultLongShadowM    = 100.0
)

// Length returns the shadow length cast by an object of the given height at
// the given solar elevation. It is zero when the sun is at or below the
// horizon.
func Length(heightMeters, elevationDeg float64) float64 {
	if elevationDeg <= 0 || heightMeters <= 0 {
		return 0
	}
	return heightMeters / math.Tan(elevationDeg*math.Pi/180)
}

// Offset returns the ground displacement of a roof point: Length metres in
// the direction opposite the sun's azimuth (x east, y north).
func Offset(length, azimuthDeg float64) geo.Vec {
	az := azimuthDeg * math.Pi / 180
	return geo.Vec{X: -length * math.Sin(az), Y: -length * math.Cos(az)}
}

// Projector turns buildings into shadows. The zero value is not useful; use
// NewProjector.
type Projector struct {
	// ReliabilityDeg is the elevation below which no shadow is produced.
	ReliabilityDeg float64
	// LowSunDeg is the elevation below which confidence is penalized.
	LowSunDeg float64
	// LongShadowM is the length beyond which confidence is penalized.
	LongShadowM float64
}

// NewProjector returns a Projector with the default thresholds, overriding
// the reliability threshold when reliabilityDeg > 0.
func NewProjector(reliabilityDeg float64) Projector {
	p := Projector{
		ReliabilityDeg: DefaultReliabilityDeg,
		LowSunDeg:      DefaultLowSunDeg,
		LongShadowM:    DefaultLongShadowM,
	}
	if reliabilityDeg > 0 {
		p.ReliabilityDeg = reliabilityDeg
	}
	return p
}

// Reliable reports whether the sun is high enough for shadows to be trusted.
func (p Projector) Reliable(sun types.SolarPosition) bool {
	return sun.ElevationDeg > 0 && sun.ElevationDeg >= p.ReliabilityDeg
}

// Project computes the shadow cast by b on the plane and returns it as
// convex pieces on the plane. The boolean is false when the building casts no
// reliable shadow.
func (p Projector) Project(plane geo.Plane, b types.Building, sun types.SolarPosition) (types.ShadowProjection, []geo.Ring, bool) {
	if !p.Reliable(sun) || len(b.Footprint) == 0 || b.HeightMeters <= 0 {
		return types.ShadowProjection{}, nil, false
	}

	length := Length(b.HeightMeters, sun.ElevationDeg)
	footprint := plane.Ring(b.Footprint[0])
	if len(footprint) < 3 {
		return types.ShadowProjection{}, nil, false
	}
	offset := Offset(length, sun.AzimuthDeg)

	outline := sweep(footprint, offset)
	if len(outline) < 3 {
		return types.ShadowProjection{}, nil, false
	}
	pieces := []geo.Ring{outline}
	if !geo.IsConvex(footprint) {
		// Triangulate returns nil for self-intersecting input; the outline
		// is the best available shadow then.
		if tris := geo.Triangulate(footprint); tris != nil {
			pieces = pieces[:0]
			for _, tri := range tris {
				if hull := sweep(tri, offset); len(hull) >= 3 {
					pieces = append(pieces, hull)
				}
			}
		}
	}

	proj := types.ShadowProjection{
		BuildingID:    b.ID,
		SourcePolygon: b.Footprint,
		HeightMeters:  b.HeightMeters,
		ShadowPolygon: orb.Polygon{plane.GeoRing(outline)},
		LengthMeters:  length,
		Confidence:    p.Confidence(b.HeightSource, sun.ElevationDeg, length),
	}
	if len(pieces) > 1 {
		proj.ShadowPieces = make(orb.MultiPolygon, len(pieces))
		for i, piece := range pieces {
			proj.ShadowPieces[i] = orb.Polygon{plane.GeoRing(piece)}
		}
	}
	return proj, pieces, true
}

// sweep returns the convex hull of r and r translated by offset.
func sweep(r geo.Ring, offset geo.Vec) geo.Ring {
	pts := make([]geo.Vec, 0, 2*len(r))
	pts = append(pts, r...)
	pts = append(pts, r.Translate(offset)...)
	return geo.ConvexHull(pts)
}

// ProjectGeo is Project on a plane anchored at the building's own centroid,
// for callers that only need the geodetic shadow polygon.
func (p Projector) ProjectGeo(b types.Building, sun types.SolarPosition) (types.ShadowProjection, bool) {
	if len(b.Footprint) == 0 {
		return types.ShadowProjection{}, false
	}
	centroid, _ := planar.CentroidArea(b.Footprint)
	proj, _, ok := p.Project(geo.NewPlane(centroid), b, sun)
	return proj, ok
}

// Confidence starts from the height-source base value and applies the
// low-sun and long-shadow penalties. The result is in (0, 1].
func (p Projector) Confidence(source types.HeightSource, elevationDeg, length float64) float64 {
	c := source.BaseConfidence()

	if elevationDeg < p.LowSunDeg && p.LowSunDeg > p.ReliabilityDeg {
		// 0.7 at the reliability threshold rising to 1.0 at LowSunDeg.
		frac := (elevationDeg - p.ReliabilityDeg) / (p.LowSunDeg - p.ReliabilityDeg)
		c *= 0.7 + 0.3*math.Max(0, math.Min(1, frac))
	}
	if length > p.LongShadowM {
		c *= math.Max(0.5, p.LongShadowM/length)
	}
	return math.Max(0.01, math.Min(1, c))
}

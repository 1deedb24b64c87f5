// Package geo holds the planar geometry used by the shadow and exposure
// calculations. Geodetic polygons are projected onto a local tangent plane
// (metres, x east, y north) anchored near the patio, where shadows can be
// translated, hulled and clipped with ordinary 2D arithmetic. At patio scale
// (a few hundred metres) the equirectangular projection error is far below
// the accuracy of the building data.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the WGS84 equatorial radius in metres.
const EarthRadius = 6378137.0

// Vec is a point or displacement on the local plane, in metres.
type Vec struct {
	X, Y float64
}

// Sub returns v - w.
func (v Vec) Sub(w Vec) Vec { return Vec{v.X - w.X, v.Y - w.Y} }

// Add returns v + w.
func (v Vec) Add(w Vec) Vec { return Vec{v.X + w.X, v.Y + w.Y} }

// Cross returns the z component of v × w.
func (v Vec) Cross(w Vec) float64 { return v.X*w.Y - v.Y*w.X }

// Plane is an equirectangular tangent plane anchored at Origin.
type Plane struct {
	Origin orb.Point
	cosLat float64
}

// NewPlane returns a plane anchored at origin (lon, lat).
func NewPlane(origin orb.Point) Plane {
	return Plane{Origin: origin, cosLat: math.Cos(origin.Lat() * math.Pi / 180)}
}

// ToLocal projects a geodetic point onto the plane.
func (p Plane) ToLocal(pt orb.Point) Vec {
	const k = math.Pi / 180 * EarthRadius
	return Vec{
		X: (pt.Lon() - p.Origin.Lon()) * k * p.cosLat,
		Y: (pt.Lat() - p.Origin.Lat()) * k,
	}
}

// ToGeo maps a plane point back to (lon, lat).
func (p Plane) ToGeo(v Vec) orb.Point {
	const k = math.Pi / 180 * EarthRadius
	return orb.Point{
		p.Origin.Lon() + v.X/(k*p.cosLat),
		p.Origin.Lat() + v.Y/k,
	}
}

// Ring projects a closed geodetic ring to an open local ring (the closing
// point is dropped).
func (p Plane) Ring(r orb.Ring) Ring {
	n := len(r)
	if n > 1 && r[0] == r[n-1] {
		n--
	}
	out := make(Ring, n)
	for i := 0; i < n; i++ {
		out[i] = p.ToLocal(r[i])
	}
	return out
}

// GeoRing maps an open local ring back to a closed geodetic ring.
func (p Plane) GeoRing(r Ring) orb.Ring {
	if len(r) == 0 {
		return nil
	}
	out := make(orb.Ring, 0, len(r)+1)
	for _, v := range r {
		out = append(out, p.ToGeo(v))
	}
	return append(out, out[0])
}

// Polygon projects every ring of poly. Element 0 is the outer ring.
func (p Plane) Polygon(poly orb.Polygon) []Ring {
	out := make([]Ring, len(poly))
	for i, r := range poly {
		out[i] = p.Ring(r)
	}
	return out
}

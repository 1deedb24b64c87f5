package geo

import (
	"fmt"

	"github.com/paulmach/orb"

	"sunspot/internal/types"
)

// ValidatePolygon rejects polygons the engine cannot reason about: no rings,
// rings with fewer than four points, unclosed rings, coordinates outside
// WGS84, zero-area rings, and self-intersecting rings. Input is never
// repaired.
func ValidatePolygon(poly orb.Polygon) error {
	if len(poly) == 0 {
		return invalidGeometry("polygon has no rings", nil)
	}
	for i, ring := range poly {
		if err := validateRing(ring); err != nil {
			return invalidGeometry(fmt.Sprintf("ring %d: %s", i, err.Error()), err)
		}
	}
	return nil
}

func validateRing(ring orb.Ring) error {
	if len(ring) < types.MinRingPoints {
		return fmt.Errorf("ring has %d points, need at least %d", len(ring), types.MinRingPoints)
	}
	if ring[0] != ring[len(ring)-1] {
		return fmt.Errorf("ring is not closed")
	}
	for _, p := range ring {
		if err := types.ValidateCoordinate(p); err != nil {
			return err
		}
	}

	pts := dedupeConsecutive(ring[:len(ring)-1])
	if len(pts) < 3 {
		return fmt.Errorf("ring is degenerate")
	}
	if areaOf(pts) == 0 {
		return fmt.Errorf("ring has zero area")
	}
	if i, j, ok := firstSelfIntersection(pts); ok {
		return fmt.Errorf("edges %d and %d intersect", i, j)
	}
	return nil
}

func invalidGeometry(msg string, err error) error {
	return types.NewAppError(types.ErrCodeValidationInvalidGeometry, msg, err)
}

func dedupeConsecutive(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

func areaOf(pts []orb.Point) float64 {
	r := make(Ring, len(pts))
	for i, p := range pts {
		r[i] = Vec{p[0], p[1]}
	}
	return r.SignedArea()
}

// firstSelfIntersection checks every pair of non-adjacent edges of the open
// ring pts.
func firstSelfIntersection(pts []orb.Point) (int, int, bool) {
	n := len(pts)
	for i := 0; i < n; i++ {
		a1, a2 := toVec(pts[i]), toVec(pts[(i+1)%n])
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := toVec(pts[j]), toVec(pts[(j+1)%n])
			if segmentsIntersect(a1, a2, b1, b2) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func toVec(p orb.Point) Vec { return Vec{p[0], p[1]} }

func orientation(a, b, c Vec) int {
	v := b.Sub(a).Cross(c.Sub(a))
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func onSegment(a, b, p Vec) bool {
	return min(a.X, b.X) <= p.X && p.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= p.Y && p.Y <= max(a.Y, b.Y)
}

// segmentsIntersect reports whether closed segments p1p2 and q1q2 share a point.
func segmentsIntersect(p1, p2, q1, q2 Vec) bool {
	o1 := orientation(p1, p2, q1)
	o2 := orientation(p1, p2, q2)
	o3 := orientation(q1, q2, p1)
	o4 := orientation(q1, q2, p2)

	if o1 != o2 && o3 != o4 {
		return true
	}
	switch {
	case o1 == 0 && onSegment(p1, p2, q1):
		return true
	case o2 == 0 && onSegment(p1, p2, q2):
		return true
	case o3 == 0 && onSegment(q1, q2, p1):
		return true
	case o4 == 0 && onSegment(q1, q2, p2):
		return true
	}
	return false
}

package geo

import "math"

// minPieceArea drops slivers produced by clipping; anything smaller than a
// square centimetre is numerical noise at patio scale.
const minPieceArea = 1e-4

// lineIntersection returns the intersection of the infinite lines p1→p2 and
// p3→p4.
func lineIntersection(p1, p2, p3, p4 Vec) (Vec, bool) {
	d := (p1.X-p2.X)*(p3.Y-p4.Y) - (p1.Y-p2.Y)*(p3.X-p4.X)
	if math.Abs(d) < 1e-12 {
		return Vec{}, false
	}
	t := ((p1.X-p3.X)*(p3.Y-p4.Y) - (p1.Y-p3.Y)*(p3.X-p4.X)) / d
	return Vec{
		X: p1.X + t*(p2.X-p1.X),
		Y: p1.Y + t*(p2.Y-p1.Y),
	}, true
}

// clipHalfPlane is one Sutherland-Hodgman pass: it keeps the part of subject
// on the left of a→b, or on the right when keepLeft is false. Concave
// subjects may come back with zero-width bridges; their area is still exact.
func clipHalfPlane(subject Ring, a, b Vec, keepLeft bool) Ring {
	inside := func(p Vec) bool {
		c := b.Sub(a).Cross(p.Sub(a))
		if keepLeft {
			return c >= 0
		}
		return c <= 0
	}

	out := make(Ring, 0, len(subject)+2)
	for j := range subject {
		cur := subject[j]
		next := subject[(j+1)%len(subject)]
		curIn, nextIn := inside(cur), inside(next)

		switch {
		case curIn && nextIn:
			out = append(out, next)
		case curIn && !nextIn:
			if ix, ok := lineIntersection(cur, next, a, b); ok {
				out = append(out, ix)
			}
		case !curIn && nextIn:
			if ix, ok := lineIntersection(cur, next, a, b); ok {
				out = append(out, ix)
			}
			out = append(out, next)
		}
	}
	if len(out) < 3 {
		return nil
	}
	return out
}

// ClipToConvex returns the part of subject inside the convex clipper.
func ClipToConvex(subject, clipper Ring) Ring {
	if len(subject) < 3 || len(clipper) < 3 {
		return nil
	}
	clipper = clipper.EnsureCCW()
	out := subject
	for i := range clipper {
		out = clipHalfPlane(out, clipper[i], clipper[(i+1)%len(clipper)], true)
		if out == nil {
			return nil
		}
	}
	return out
}

// SubtractConvex removes the convex clipper from every piece and returns the
// remaining pieces. Each clipper edge splits off the part of the piece lying
// outside that edge; whatever survives all edges is inside the clipper and is
// discarded. The result is exact for any simple piece.
func SubtractConvex(pieces []Ring, clipper Ring) []Ring {
	if len(clipper) < 3 {
		return pieces
	}
	clipper = clipper.EnsureCCW()

	out := make([]Ring, 0, len(pieces))
	for _, piece := range pieces {
		if !boundsOverlap(piece, clipper) {
			out = append(out, piece)
			continue
		}
		remaining := piece
		for i := range clipper {
			a, b := clipper[i], clipper[(i+1)%len(clipper)]
			if outside := clipHalfPlane(remaining, a, b, false); outside.Area() > minPieceArea {
				out = append(out, outside)
			}
			remaining = clipHalfPlane(remaining, a, b, true)
			if remaining.Area() <= minPieceArea {
				break
			}
		}
	}
	return out
}

// SunlitArea returns the area of the polygon (outer ring minus holes) that is
// not covered by any of the convex shadows.
func SunlitArea(outer Ring, holes []Ring, shadows []Ring) float64 {
	area := uncoveredArea(outer, shadows)
	for _, h := range holes {
		area -= uncoveredArea(h, shadows)
	}
	return math.Max(area, 0)
}

// PolygonArea returns the area of outer minus its holes.
func PolygonArea(outer Ring, holes []Ring) float64 {
	area := outer.Area()
	for _, h := range holes {
		area -= h.Area()
	}
	return math.Max(area, 0)
}

// CoveragePercent returns the share of the polygon covered by the union of
// the convex shadows, in [0, 100].
func CoveragePercent(outer Ring, holes []Ring, shadows []Ring) float64 {
	total := PolygonArea(outer, holes)
	if total <= 0 {
		return 0
	}
	covered := 100 * (1 - SunlitArea(outer, holes, shadows)/total)
	return math.Min(100, math.Max(0, covered))
}

func uncoveredArea(r Ring, shadows []Ring) float64 {
	pieces := []Ring{r}
	for _, s := range shadows {
		pieces = SubtractConvex(pieces, s)
		if len(pieces) == 0 {
			return 0
		}
	}
	var area float64
	for _, p := range pieces {
		area += p.Area()
	}
	return area
}

package geo

import (
	"math"
	"sort"
)

// Ring is an open polygon ring on the local plane: the last vertex connects
// back to the first implicitly.
type Ring []Vec

// SignedArea returns the shoelace area; positive for counter-clockwise rings.
func (r Ring) SignedArea() float64 {
	n := len(r)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += r[i].X*r[j].Y - r[j].X*r[i].Y
	}
	return sum / 2
}

// Area returns the absolute enclosed area in square metres.
func (r Ring) Area() float64 {
	return math.Abs(r.SignedArea())
}

// EnsureCCW returns r in counter-clockwise order.
func (r Ring) EnsureCCW() Ring {
	if r.SignedArea() >= 0 {
		return r
	}
	out := make(Ring, len(r))
	for i, v := range r {
		out[len(r)-1-i] = v
	}
	return out
}

// Translate returns a copy of r shifted by d.
func (r Ring) Translate(d Vec) Ring {
	out := make(Ring, len(r))
	for i, v := range r {
		out[i] = v.Add(d)
	}
	return out
}

// Bounds returns the axis-aligned bounding box of r.
func (r Ring) Bounds() (lo, hi Vec) {
	if len(r) == 0 {
		return Vec{}, Vec{}
	}
	lo, hi = r[0], r[0]
	for _, v := range r[1:] {
		lo.X = math.Min(lo.X, v.X)
		lo.Y = math.Min(lo.Y, v.Y)
		hi.X = math.Max(hi.X, v.X)
		hi.Y = math.Max(hi.Y, v.Y)
	}
	return lo, hi
}

// boundsOverlap reports whether the bounding boxes of a and b intersect.
func boundsOverlap(a, b Ring) bool {
	alo, ahi := a.Bounds()
	blo, bhi := b.Bounds()
	return alo.X <= bhi.X && blo.X <= ahi.X && alo.Y <= bhi.Y && blo.Y <= ahi.Y
}

// ConvexHull returns the counter-clockwise convex hull of pts using Andrew's
// monotone chain. Collinear points are dropped.
func ConvexHull(pts []Vec) Ring {
	if len(pts) < 3 {
		return append(Ring(nil), pts...)
	}
	sorted := make([]Vec, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	hull := make(Ring, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && hull[len(hull)-1].Sub(hull[len(hull)-2]).Cross(p.Sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && hull[len(hull)-1].Sub(hull[len(hull)-2]).Cross(p.Sub(hull[len(hull)-2])) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

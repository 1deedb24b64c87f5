package geo

import "math"

const collinearEps = 1e-9

// IsConvex reports whether r turns the same way at every vertex. Collinear
// vertices are ignored.
func IsConvex(r Ring) bool {
	n := len(r)
	if n < 3 {
		return false
	}
	var sign float64
	for i := 0; i < n; i++ {
		a, b, c := r[i], r[(i+1)%n], r[(i+2)%n]
		cross := b.Sub(a).Cross(c.Sub(b))
		if math.Abs(cross) < collinearEps {
			continue
		}
		if sign == 0 {
			sign = cross
			continue
		}
		if (cross > 0) != (sign > 0) {
			return false
		}
	}
	return sign != 0
}

// Triangulate splits a simple ring into counter-clockwise triangles by ear
// clipping. Collinear vertices are dropped along the way. It returns nil when
// the ring is degenerate or self-intersecting and no ear can be found.
func Triangulate(r Ring) []Ring {
	if len(r) < 3 {
		return nil
	}
	r = r.EnsureCCW()
	idx := make([]int, len(r))
	for i := range idx {
		idx[i] = i
	}

	out := make([]Ring, 0, len(r)-2)
	for len(idx) > 3 {
		n := len(idx)
		clipped := false
		for i := 0; i < n; i++ {
			a, b, c := r[idx[(i+n-1)%n]], r[idx[i]], r[idx[(i+1)%n]]
			cross := b.Sub(a).Cross(c.Sub(a))
			if math.Abs(cross) < collinearEps {
				idx = append(idx[:i], idx[i+1:]...)
				clipped = true
				break
			}
			if cross < 0 || !isEar(r, idx, i, a, b, c) {
				continue
			}
			out = append(out, Ring{a, b, c})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			return nil
		}
	}

	last := Ring{r[idx[0]], r[idx[1]], r[idx[2]]}
	if last.SignedArea() > collinearEps {
		out = append(out, last)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// isEar reports whether no other remaining vertex lies inside or on the
// triangle abc cut at idx[i].
func isEar(r Ring, idx []int, i int, a, b, c Vec) bool {
	n := len(idx)
	for j := 0; j < n; j++ {
		if j == i || j == (i+n-1)%n || j == (i+1)%n {
			continue
		}
		p := r[idx[j]]
		if p == a || p == b || p == c {
			continue
		}
		if b.Sub(a).Cross(p.Sub(a)) >= 0 &&
			c.Sub(b).Cross(p.Sub(b)) >= 0 &&
			a.Sub(c).Cross(p.Sub(c)) >= 0 {
			return false
		}
	}
	return true
}

package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunspot/internal/types"
)

const tolerance = 1e-6

func rect(x0, y0, x1, y1 float64) Ring {
	return Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func TestPlane_RoundTrip(t *testing.T) {
	origin := orb.Point{12.5683, 55.6761}
	p := NewPlane(origin)

	assert.Equal(t, Vec{}, p.ToLocal(origin))

	v := Vec{X: 120.5, Y: -43.25}
	back := p.ToLocal(p.ToGeo(v))
	assert.InDelta(t, v.X, back.X, 1e-6)
	assert.InDelta(t, v.Y, back.Y, 1e-6)

	// One degree of latitude is ~111.3 km on this sphere.
	north := p.ToLocal(orb.Point{origin.Lon(), origin.Lat() + 1})
	assert.InDelta(t, 111319.49, north.Y, 0.5)
}

func TestPlane_RingDropsClosingPoint(t *testing.T) {
	p := NewPlane(orb.Point{0, 0})
	geoRing := p.GeoRing(rect(0, 0, 10, 10))
	require.Len(t, geoRing, 5)
	assert.Equal(t, geoRing[0], geoRing[4])

	local := p.Ring(geoRing)
	assert.Len(t, local, 4)
	assert.InDelta(t, 100, local.Area(), 1e-6)
}

func TestRing_SignedAreaOrientation(t *testing.T) {
	ccw := rect(0, 0, 4, 3)
	assert.InDelta(t, 12, ccw.SignedArea(), tolerance)

	cw := Ring{{0, 0}, {0, 3}, {4, 3}, {4, 0}}
	assert.InDelta(t, -12, cw.SignedArea(), tolerance)
	assert.InDelta(t, 12, cw.EnsureCCW().SignedArea(), tolerance)
}

func TestConvexHull(t *testing.T) {
	pts := []Vec{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {5, 5}, {5, 0}}
	hull := ConvexHull(pts)

	assert.Len(t, hull, 4)
	assert.InDelta(t, 100, hull.SignedArea(), tolerance)
}

func TestConvexHull_TranslatedSquare(t *testing.T) {
	sq := rect(0, 0, 10, 10)
	shifted := sq.Translate(Vec{0, -20})
	hull := ConvexHull(append(append([]Vec{}, sq...), shifted...))

	assert.InDelta(t, 300, hull.Area(), tolerance)
}

func TestClipToConvex(t *testing.T) {
	got := ClipToConvex(rect(0, 0, 10, 10), rect(5, 5, 15, 15))
	assert.InDelta(t, 25, got.Area(), tolerance)

	assert.Nil(t, ClipToConvex(rect(0, 0, 1, 1), rect(5, 5, 6, 6)))
}

func TestCoveragePercent(t *testing.T) {
	patio := rect(0, 0, 10, 10)

	tests := []struct {
		name    string
		shadows []Ring
		want    float64
	}{
		{"no shadows", nil, 0},
		{"fully contained", []Ring{rect(-5, -5, 15, 15)}, 100},
		{"disjoint", []Ring{rect(20, 20, 30, 30)}, 0},
		{"half", []Ring{rect(-5, -5, 5, 15)}, 50},
		{"overlapping shadows are not double counted", []Ring{rect(-5, -5, 5, 15), rect(0, -5, 5, 15)}, 50},
		{"two disjoint quarters", []Ring{rect(0, 0, 5, 5), rect(5, 5, 10, 10)}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CoveragePercent(patio, nil, tt.shadows), 1e-6)
		})
	}
}

func TestCoveragePercent_PartialIsStrictlyBetween(t *testing.T) {
	got := CoveragePercent(rect(0, 0, 10, 10), nil, []Ring{{{9, 9}, {12, 9}, {12, 12}}})
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 100.0)
}

func TestSunlitArea_ConcavePatio(t *testing.T) {
	// L-shaped patio of area 75: a 10x10 square missing its top-right quarter.
	patio := Ring{{0, 0}, {10, 0}, {10, 5}, {5, 5}, {5, 10}, {0, 10}}
	require.InDelta(t, 75, patio.Area(), tolerance)

	// A shadow over the right half covers only the bottom-right 5x5 block.
	sunlit := SunlitArea(patio, nil, []Ring{rect(5, -1, 11, 11)})
	assert.InDelta(t, 50, sunlit, 1e-6)
}

func TestSunlitArea_WithHole(t *testing.T) {
	outer := rect(0, 0, 10, 10)
	hole := rect(4, 4, 6, 6)
	require.InDelta(t, 96, PolygonArea(outer, []Ring{hole}), tolerance)

	// Shadow over the left half; the hole sits half inside it.
	sunlit := SunlitArea(outer, []Ring{hole}, []Ring{rect(-1, -1, 5, 11)})
	assert.InDelta(t, 48, sunlit, 1e-6)
}

func closedSquare(lon, lat, size float64) orb.Polygon {
	return orb.Polygon{{
		{lon, lat}, {lon + size, lat}, {lon + size, lat + size}, {lon, lat + size}, {lon, lat},
	}}
}

func TestValidatePolygon(t *testing.T) {
	tests := []struct {
		name    string
		poly    orb.Polygon
		wantErr bool
	}{
		{"valid square", closedSquare(12.5, 55.6, 0.001), false},
		{"empty", orb.Polygon{}, true},
		{"too few points", orb.Polygon{{{0, 0}, {1, 0}, {0, 0}}}, true},
		{"unclosed", orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}}, true},
		{"bowtie", orb.Polygon{{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}}}, true},
		{"collinear", orb.Polygon{{{0, 0}, {1, 0}, {2, 0}, {0, 0}}}, true},
		{"latitude out of range", orb.Polygon{{{0, 89.9}, {1, 89.9}, {1, 90.1}, {0, 89.9}}}, true},
		{"duplicate vertex tolerated", orb.Polygon{{{0, 0}, {1, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}, false},
		{"bad hole", append(closedSquare(0, 0, 1), orb.Ring{{0.2, 0.2}, {0.4, 0.2}, {0.2, 0.2}}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePolygon(tt.poly)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidGeometry), "got %v", err)
		})
	}
}

// uShape is a 20x20 block open to the north with a 10x15 notch cut from the
// middle of the top edge.
func uShape() Ring {
	return Ring{{0, 0}, {20, 0}, {20, 20}, {15, 20}, {15, 5}, {5, 5}, {5, 20}, {0, 20}}
}

func TestIsConvex(t *testing.T) {
	assert.True(t, IsConvex(rect(0, 0, 4, 3)))
	assert.True(t, IsConvex(Ring{{0, 0}, {5, 0}, {10, 0}, {10, 10}, {0, 10}}), "collinear vertex")
	assert.False(t, IsConvex(uShape()))
	assert.False(t, IsConvex(Ring{{0, 0}, {1, 1}}))
}

func TestTriangulate_PreservesArea(t *testing.T) {
	tests := []struct {
		name string
		ring Ring
		area float64
	}{
		{"square", rect(0, 0, 10, 10), 100},
		{"u shape", uShape(), 250},
		{"u shape clockwise", Ring{{0, 20}, {5, 20}, {5, 5}, {15, 5}, {15, 20}, {20, 20}, {20, 0}, {0, 0}}, 250},
		{"l shape", Ring{{0, 0}, {10, 0}, {10, 4}, {4, 4}, {4, 10}, {0, 10}}, 64},
		{"collinear run", Ring{{0, 0}, {5, 0}, {10, 0}, {10, 10}, {0, 10}}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tris := Triangulate(tt.ring)
			require.NotEmpty(t, tris)
			var sum float64
			for _, tri := range tris {
				require.Len(t, tri, 3)
				assert.Greater(t, tri.SignedArea(), 0.0)
				sum += tri.Area()
			}
			assert.InDelta(t, tt.area, sum, tolerance)
		})
	}
}

func TestTriangulate_StaysInsideRing(t *testing.T) {
	notch := rect(5, 5, 15, 20)
	for _, tri := range Triangulate(uShape()) {
		assert.InDelta(t, 0, ClipToConvex(notch, tri).Area(), tolerance,
			"triangle %v reaches into the notch", tri)
	}
}

func TestTriangulate_Degenerate(t *testing.T) {
	assert.Nil(t, Triangulate(Ring{{0, 0}, {1, 0}}))
	assert.Nil(t, Triangulate(Ring{{0, 0}, {1, 0}, {2, 0}}))
}

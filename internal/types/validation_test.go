package types

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name string
		p    GeoPoint
		code ErrorCode
	}{
		{"copenhagen", orb.Point{12.5683, 55.6761}, ""},
		{"north pole", orb.Point{0, 90}, ""},
		{"lat too high", orb.Point{0, 90.1}, ErrCodeValidationInvalidLat},
		{"lat NaN", orb.Point{0, math.NaN()}, ErrCodeValidationInvalidLat},
		{"lon too low", orb.Point{-180.5, 10}, ErrCodeValidationInvalidLon},
		{"lon Inf", orb.Point{math.Inf(1), 10}, ErrCodeValidationInvalidLon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinate(tt.p)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestHeightSource_BaseConfidenceOrdering(t *testing.T) {
	assert.Equal(t, 1.0, HeightSurveyed.BaseConfidence())
	assert.Equal(t, 0.85, HeightExternalDataset.BaseConfidence())
	assert.Equal(t, 0.70, HeightHeuristic.BaseConfidence())
	assert.GreaterOrEqual(t, HeightSurveyed.BaseConfidence(), HeightAdminOverride.BaseConfidence())
	assert.GreaterOrEqual(t, HeightAdminOverride.BaseConfidence(), HeightExternalDataset.BaseConfidence())

	assert.Equal(t, HeightHeuristic.BaseConfidence(), HeightSource("lidar_guess").BaseConfidence())
	assert.False(t, HeightSource("lidar_guess").IsValid())
}

func TestCachedExposure_IsExpired(t *testing.T) {
	now := mustTime("2026-06-21T12:00:00Z")
	c := CachedExposure{ExpiresAt: now}
	assert.True(t, c.IsExpired(now))
	assert.False(t, c.IsExpired(now.Add(-1)))
}

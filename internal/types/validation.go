package types

import (
	"fmt"
	"math"
)

// Validation constraint constants.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0

	// MaxBatchPatios is the largest batch accepted by a batch exposure call.
	MaxBatchPatios = 100
	// MinRingPoints is the smallest closed ring: a triangle plus the closing point.
	MinRingPoints = 4
)

// ValidateCoordinate checks that a point is finite and inside WGS84 bounds.
func ValidateCoordinate(p GeoPoint) error {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < MinLat || lat > MaxLat {
		return NewAppError(ErrCodeValidationInvalidLat,
			fmt.Sprintf("latitude %v outside [%v, %v]", lat, MinLat, MaxLat), nil)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < MinLon || lon > MaxLon {
		return NewAppError(ErrCodeValidationInvalidLon,
			fmt.Sprintf("longitude %v outside [%v, %v]", lon, MinLon, MaxLon), nil)
	}
	return nil
}

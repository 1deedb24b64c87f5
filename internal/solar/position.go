// Package solar computes the apparent position of the sun using the NOAA
// low-order series (Meeus, Astronomical Algorithms, ch. 25), which is good to
// roughly 0.01° between 1950 and 2050.
//
// All functions are pure. Invalid numeric input (NaN, ±Inf) propagates into
// the output instead of returning an error; callers validate coordinates.
package solar

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/soniakeys/meeus/v3/julian"

	"sunspot/internal/types"
)

// Reference location used when a caller has no coordinates of its own.
const (
	DefaultReferenceLat = 55.6761
	DefaultReferenceLon = 12.5683
)

// refractionCutoffDeg is the elevation above which refraction is ignored.
const refractionCutoffDeg = 85.0

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func radToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// fixAngle normalizes angle to [0, 360).
func fixAngle(a float64) float64 { return a - 360.0*math.Floor(a/360.0) }

func clampUnit(x float64) float64 { return math.Max(-1, math.Min(1, x)) }

// Calculator resolves solar positions, falling back to a configured
// reference location.
type Calculator struct {
	ReferenceLat float64
	ReferenceLon float64
}

// NewCalculator returns a Calculator anchored at (lat, lon).
func NewCalculator(lat, lon float64) Calculator {
	return Calculator{ReferenceLat: lat, ReferenceLon: lon}
}

// PositionAtReference returns the sun's position over the reference location.
func (c Calculator) PositionAtReference(t time.Time) types.SolarPosition {
	return Position(t, c.ReferenceLat, c.ReferenceLon)
}

// PositionAt returns the sun's position over p, or over the reference
// location when p is the zero point.
func (c Calculator) PositionAt(t time.Time, p orb.Point) types.SolarPosition {
	if p == (orb.Point{}) {
		return c.PositionAtReference(t)
	}
	return Position(t, p.Lat(), p.Lon())
}

// Ephemeris holds the intermediate quantities of one evaluation. It is
// exported for diagnostics and tests.
type Ephemeris struct {
	JulianDay      float64
	DeclinationDeg float64
	EqOfTimeMin    float64
	HourAngleDeg   float64
	GeometricElev  float64
	RefractionDeg  float64
}

// Position returns the apparent solar position at t for (lat, lon) in
// degrees, longitude positive east.
func Position(t time.Time, lat, lon float64) types.SolarPosition {
	eph, az := compute(t, lat, lon)
	elev := eph.GeometricElev + eph.RefractionDeg
	if elev > 90 {
		elev = 90
	}
	return types.SolarPosition{
		Timestamp:    types.NormalizeInstant(t),
		ElevationDeg: elev,
		AzimuthDeg:   az,
	}
}

// Compute exposes the intermediate values for t at (lat, lon).
func Compute(t time.Time, lat, lon float64) Ephemeris {
	eph, _ := compute(t, lat, lon)
	return eph
}

func compute(t time.Time, lat, lon float64) (Ephemeris, float64) {
	t = t.UTC()
	jd := julian.TimeToJD(t)
	T := (jd - 2451545.0) / 36525.0 // centuries since J2000

	L0 := fixAngle(280.46646 + T*(36000.76983+T*0.0003032)) // mean longitude
	M := fixAngle(357.52911 + T*(35999.05029-T*0.0001537))  // mean anomaly
	e := 0.016708634 - T*(0.000042037+T*0.0000001267)       // eccentricity
	C := math.Sin(degToRad(M))*(1.914602-T*(0.004817+T*0.000014)) +
		math.Sin(degToRad(2*M))*(0.019993-T*0.000101) +
		math.Sin(degToRad(3*M))*0.000289 // equation of center
	trueLong := L0 + C
	omega := 125.04 - 1934.136*T
	apparentLong := trueLong - 0.00569 - 0.00478*math.Sin(degToRad(omega))

	eps0 := 23 + (26+(21.448-T*(46.815+T*(0.00059-T*0.001813)))/60)/60 // mean obliquity
	eps := eps0 + 0.00256*math.Cos(degToRad(omega))                      // corrected obliquity

	declRad := math.Asin(clampUnit(math.Sin(degToRad(eps)) * math.Sin(degToRad(apparentLong))))

	y := math.Tan(degToRad(eps)/2) * math.Tan(degToRad(eps)/2)
	eqTimeMin := 4 * radToDeg(y*math.Sin(2*degToRad(L0))-
		2*e*math.Sin(degToRad(M))+
		4*e*y*math.Sin(degToRad(M))*math.Cos(2*degToRad(L0))-
		0.5*y*y*math.Sin(4*degToRad(L0))-
		1.25*e*e*math.Sin(2*degToRad(M)))

	utcMin := float64(t.Hour()*60+t.Minute()) + (float64(t.Second())+float64(t.Nanosecond())/1e9)/60
	tst := math.Mod(utcMin+eqTimeMin+4*lon, 1440)
	if tst < 0 {
		tst += 1440
	}
	ha := tst/4 - 180

	latRad := degToRad(lat)
	haRad := degToRad(ha)
	cosZen := clampUnit(math.Sin(latRad)*math.Sin(declRad) + math.Cos(latRad)*math.Cos(declRad)*math.Cos(haRad))
	zenRad := math.Acos(cosZen)
	elev := 90 - radToDeg(zenRad)

	var az float64
	azDen := math.Cos(latRad) * math.Sin(zenRad)
	switch {
	case math.IsNaN(azDen):
		az = math.NaN()
	case math.Abs(azDen) > 1e-9:
		cosAz := clampUnit((math.Sin(latRad)*math.Cos(zenRad) - math.Sin(declRad)) / azDen)
		az = 180 - radToDeg(math.Acos(cosAz))
		if ha > 0 {
			az = -az
		}
	case lat > 0:
		az = 180
	}
	// NaN survives fixAngle, so bad input stays visible.
	az = fixAngle(az)
	if az >= 360 {
		az = 0
	}

	return Ephemeris{
		JulianDay:      jd,
		DeclinationDeg: radToDeg(declRad),
		EqOfTimeMin:    eqTimeMin,
		HourAngleDeg:   ha,
		GeometricElev:  elev,
		RefractionDeg:  Refraction(elev),
	}, az
}

// Refraction returns the atmospheric refraction correction in degrees for a
// geometric elevation, using Bennett's formula. It is zero below the horizon
// and above 85°.
func Refraction(elevationDeg float64) float64 {
	if elevationDeg < 0 || elevationDeg > refractionCutoffDeg {
		return 0
	}
	arcmin := 1 / math.Tan(degToRad(elevationDeg+7.31/(elevationDeg+4.4)))
	return arcmin / 60
}

// Accuracy is the confidence in the computed position as a shadow input:
// full above 10°, degrading linearly to 0.7 at the horizon where refraction
// and terrain dominate.
func Accuracy(elevationDeg float64) float64 {
	switch {
	case elevationDeg >= 10:
		return 1
	case elevationDeg <= 0:
		return 0.7
	default:
		return 0.7 + 0.3*elevationDeg/10
	}
}

// Package geo provides great-circle distance and the coarse route baseline.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used by the sphere approximation.
	EarthRadiusMeters = 6371000.0

	// SinuosityFactor scales straight-line distance into an approximate road
	// distance when no route length is known.
	SinuosityFactor = 1.3
)

// Point is a geographic position in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether p lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair above 1 for near-antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Baseline returns the total-distance denominator used for progress.
// A positive routeMeters is used as is; otherwise the straight-line distance is
// stretched by SinuosityFactor and approximate is true.
func Baseline(routeMeters float64, from, to Point) (meters float64, approximate bool) {
	if routeMeters > 0 && !math.IsInf(routeMeters, 0) {
		return routeMeters, false
	}
	return Distance(from, to) * SinuosityFactor, true
}

func toRad(d float64) float64 { return d * math.Pi / 180 }

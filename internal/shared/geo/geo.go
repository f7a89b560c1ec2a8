// Package geo holds great-circle helpers shared by the tracking pipeline.
package geo

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two points given
// in decimal degrees.
//
//	a = sin²(Δφ/2) + cos φ1 · cos φ2 · sin²(Δλ/2)
//	d = 2R · atan2(√a, √(1−a))
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlng1 := lng1 * math.Pi / 180
	rlng2 := lng2 * math.Pi / 180

	dlat := rlat2 - rlat1
	dlng := rlng2 - rlng1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	// rounding can push a just past 1 for near-antipodal points
	a = math.Min(1, math.Max(0, a))

	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineMeters(lat1, lng1, lat2, lng2) / 1000
}

// ValidLatLng reports whether the coordinate is finite and inside
// [-90,90] x [-180,180].
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return s2.LatLngFromDegrees(lat, lng).IsValid()
}

// S2Meters measures the same distance through the s2 library. It is kept as
// an independent reference for HaversineMeters.
func S2Meters(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return angleMeters(p1.Distance(p2))
}

func angleMeters(a s1.Angle) float64 {
	return a.Radians() * EarthRadiusMeters
}

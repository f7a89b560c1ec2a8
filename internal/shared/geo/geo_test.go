package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineKnownDistances(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
	}{
		{"100m north in Delhi", 28.6139, 77.2090, 28.6148, 77.2090, 100},
		{"10km north in Delhi", 28.6139, 77.2090, 28.7039, 77.2090, 10000},
		{"Delhi to Mumbai", 28.6139, 77.2090, 19.0760, 72.8777, 1150000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HaversineMeters(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			assert.InEpsilon(t, tc.want, got, 0.10)
		})
	}
}

func TestHaversineSymmetryAndIdentity(t *testing.T) {
	points := [][2]float64{
		{28.6139, 77.2090},
		{-33.8688, 151.2093},
		{51.5074, -0.1278},
		{0, 0},
		{89.9, 179.9},
		{-89.9, -179.9},
	}
	for _, a := range points {
		assert.Zero(t, HaversineMeters(a[0], a[1], a[0], a[1]))
		for _, b := range points {
			ab := HaversineMeters(a[0], a[1], b[0], b[1])
			ba := HaversineMeters(b[0], b[1], a[0], a[1])
			assert.InDelta(t, ab, ba, 1e-6)
		}
	}
}

func TestHaversineAgreesWithS2(t *testing.T) {
	pairs := [][4]float64{
		{28.6139, 77.2090, 28.6148, 77.2090},
		{28.6139, 77.2090, 19.0760, 72.8777},
		{40.7128, -74.0060, 34.0522, -118.2437},
	}
	for _, p := range pairs {
		h := HaversineMeters(p[0], p[1], p[2], p[3])
		s := S2Meters(p[0], p[1], p[2], p[3])
		assert.InDelta(t, s, h, 1e-3*math.Max(1, s))
	}
}

func TestValidLatLng(t *testing.T) {
	assert.True(t, ValidLatLng(28.6, 77.2))
	assert.True(t, ValidLatLng(-90, 180))
	assert.False(t, ValidLatLng(90.0001, 0))
	assert.False(t, ValidLatLng(0, -180.5))
	assert.False(t, ValidLatLng(math.NaN(), 0))
	assert.False(t, ValidLatLng(0, math.Inf(1)))
}

func TestHaversineAntipodalIsFinite(t *testing.T) {
	half := math.Pi * EarthRadiusMeters
	for _, p := range [][4]float64{
		{-86.78, -179, 86.78, 1},
		{0, 0, 0, 180},
		{45, 90, -45, -90},
	} {
		d := HaversineMeters(p[0], p[1], p[2], p[3])
		assert.False(t, math.IsNaN(d), "pair %v", p)
		assert.InDelta(t, half, d, 1, "pair %v", p)
	}
}

package tracking

import (
	"math"
	"time"
)

// trailingGapLimit bounds the time added between the last accepted point and
// the stop request.
const trailingGapLimit = 10 * time.Minute

// Finalize reconciles total time when a session stops.
//
// Wall-clock duration wins when it is larger than the accumulated time; it
// already spans the trailing gap after the last point, so that gap is only
// added when wall-clock did not win. Distance and history are untouched.
func Finalize(agg Aggregate, startedAt, stoppedAt time.Time) Aggregate {
	if !startedAt.IsZero() {
		wall := stoppedAt.Sub(startedAt).Seconds()
		if wall > agg.TotalTimeS {
			agg.TotalTimeS = wall
			return agg
		}
	}

	if agg.Last != nil {
		gap := stoppedAt.Sub(agg.Last.Timestamp)
		if gap > 0 && gap < trailingGapLimit {
			agg.TotalTimeS += gap.Seconds()
		}
	}
	return agg
}

// Totals is the reporting view of a session aggregate.
type Totals struct {
	TotalDistanceMeters float64 `json:"total_distance_meters"`
	TotalTimeSeconds    float64 `json:"total_time_seconds"`
	TotalDistanceKm     float64 `json:"total_distance_km"`
	TotalTimeHours      float64 `json:"total_time_hours"`
	AverageSpeedKmh     float64 `json:"average_speed_kmh"`
}

// NewTotals converts raw meters/seconds into the rounded figures shown to
// users. Average speed is zero when no time has been recorded.
func NewTotals(distanceM, timeS float64) Totals {
	km := distanceM / 1000
	hours := timeS / 3600
	speed := 0.0
	if timeS > 0 {
		speed = km / hours
	}
	return Totals{
		TotalDistanceMeters: distanceM,
		TotalTimeSeconds:    timeS,
		TotalDistanceKm:     round2(km),
		TotalTimeHours:      round2(hours),
		AverageSpeedKmh:     round2(speed),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

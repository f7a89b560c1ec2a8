package tracking

import "time"

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Mode           Mode       `json:"mode"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TotalDistanceM float64    `json:"total_distance_meters"`
	TotalTimeS     float64    `json:"total_time_seconds"`
}

func (s Session) Totals() Totals {
	return NewTotals(s.TotalDistanceM, s.TotalTimeS)
}

type Summary struct {
	SessionID  string     `json:"session_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	PointCount int        `json:"point_count"`
	Totals
}

// Detail is everything a map view needs for one session.
type Detail struct {
	Session
	Locations []LocationRecord `json:"locations"`
	StartLat  *float64         `json:"start_lat"`
	StartLng  *float64         `json:"start_lng"`
}

// Overview is one row of a user's finished-tracks list.
type Overview struct {
	ID         string     `json:"id"`
	Mode       Mode       `json:"mode"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DistanceKm float64    `json:"distance_km"`
	TimeHours  float64    `json:"time_hours"`
}

type IngestResult struct {
	SessionID string `json:"session_id"`
	BatchResult
	Records []LocationRecord `json:"records"`
	Totals  Totals           `json:"totals"`
}

// LiveUpdate is pushed to session watchers after accepted points are stored.
type LiveUpdate struct {
	SessionID string           `json:"session_id"`
	Records   []LocationRecord `json:"records"`
	Totals    Totals           `json:"totals"`
}

package tracking

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"backend-geotrack/internal/shared/geo"
)

type Mode string

const (
	ModeWalk  Mode = "walk"
	ModeBike  Mode = "bike"
	ModeCar   Mode = "car"
	ModeOther Mode = "other"

	// DefaultMode applies when a sample carries no mode at all.
	DefaultMode = ModeBike
)

// ParseMode normalizes a client-supplied mode. Empty input yields DefaultMode,
// anything unrecognized yields ModeOther.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return DefaultMode
	case ModeWalk, ModeBike, ModeCar:
		return m
	default:
		return ModeOther
	}
}

// MinDistance is the smallest movement in meters that counts as real travel
// for the given mode. Shorter hops are treated as GPS jitter.
func MinDistance(m Mode) float64 {
	switch m {
	case ModeWalk:
		return 8
	case ModeBike:
		return 12
	case ModeCar:
		return 25
	default:
		return 2
	}
}

const (
	maxTimeGapSeconds     = 300.0
	clampedTimeGapSeconds = 60.0
)

// Sample is one raw observation as received from a client. Lat and Lng may be
// JSON numbers or numeric strings; Timestamp is expected to be an ISO-8601
// string but anything else is tolerated.
type Sample struct {
	Lat       any    `json:"lat"`
	Lng       any    `json:"lng"`
	Mode      string `json:"mode,omitempty"`
	Timestamp any    `json:"timestamp,omitempty"`
}

// Fix is the position and time of the last accepted point.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationRecord is an accepted point together with what it contributed to
// the session totals. Records are append-only.
type LocationRecord struct {
	Lat               float64 `json:"lat"`
	Lng               float64 `json:"lng"`
	Mode              Mode    `json:"mode"`
	Timestamp         string  `json:"timestamp"`
	DistanceIncrement float64 `json:"distance_increment"`
	TimeIncrement     float64 `json:"time_increment"`

	recordedAt time.Time
}

// RecordedAt is the instant the record was accepted for. It is zero for
// records loaded back from storage.
func (r LocationRecord) RecordedAt() time.Time { return r.recordedAt }

// Aggregate is the running state of one tracking session. It is a value:
// Process returns a new Aggregate and never writes through the one it was
// given, so the caller holding the latest value is the only writer.
type Aggregate struct {
	Last           *Fix             `json:"last,omitempty"`
	TotalDistanceM float64          `json:"total_distance_meters"`
	TotalTimeS     float64          `json:"total_time_seconds"`
	Mode           Mode             `json:"mode"`
	History        []LocationRecord `json:"locations"`
}

type Verdict int

const (
	Accept Verdict = iota
	MalformedCoordinate
	DuplicatePosition
	BelowDistanceThreshold
	NonMonotonicTime
)

func (v Verdict) Accepted() bool { return v == Accept }

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accepted"
	case MalformedCoordinate:
		return "malformed_coordinate"
	case DuplicatePosition:
		return "duplicate_position"
	case BelowDistanceThreshold:
		return "below_distance_threshold"
	case NonMonotonicTime:
		return "non_monotonic_time"
	default:
		return "unknown"
	}
}

// BatchResult counts the outcome of a ProcessBatch call.
type BatchResult struct {
	Accepted int            `json:"accepted"`
	Rejected int            `json:"rejected"`
	Reasons  map[string]int `json:"reasons,omitempty"`
}

// Processor decides admission of samples and folds them into an Aggregate.
// It is stateless apart from the clock used for missing timestamps.
type Processor struct {
	now func() time.Time
}

func NewProcessor(now func() time.Time) Processor {
	if now == nil {
		now = time.Now
	}
	return Processor{now: now}
}

// Process applies one sample. A rejected sample returns agg unchanged.
func (p Processor) Process(agg Aggregate, s Sample) (Aggregate, Verdict) {
	lat, okLat := parseCoordinate(s.Lat)
	lng, okLng := parseCoordinate(s.Lng)
	if !okLat || !okLng || !geo.ValidLatLng(lat, lng) {
		return agg, MalformedCoordinate
	}

	ts := p.resolveTimestamp(s.Timestamp)
	mode := ParseMode(s.Mode)

	var distance, elapsed float64
	if last := agg.Last; last != nil {
		if last.Lat == lat && last.Lng == lng {
			return agg, DuplicatePosition
		}

		distance = geo.HaversineMeters(last.Lat, last.Lng, lat, lng)
		if math.IsNaN(distance) || math.IsInf(distance, 0) {
			return agg, MalformedCoordinate
		}
		if distance < MinDistance(mode) {
			return agg, BelowDistanceThreshold
		}

		elapsed = ts.Sub(last.Timestamp).Seconds()
		if elapsed < 0 {
			return agg, NonMonotonicTime
		}
		if elapsed > maxTimeGapSeconds {
			elapsed = clampedTimeGapSeconds
		}
	}

	next := agg
	next.TotalDistanceM += distance
	next.TotalTimeS += elapsed
	next.Mode = mode
	next.Last = &Fix{Lat: lat, Lng: lng, Timestamp: ts}
	// Clip forces append to reallocate so the caller's slice is never shared.
	next.History = append(slices.Clip(agg.History), LocationRecord{
		Lat:               lat,
		Lng:               lng,
		Mode:              mode,
		Timestamp:         FormatTimestamp(ts),
		DistanceIncrement: distance,
		TimeIncrement:     elapsed,
		recordedAt:        ts,
	})
	return next, Accept
}

// ProcessBatch folds samples in order. Rejected samples are skipped and never
// stop the remaining ones from being applied.
func (p Processor) ProcessBatch(agg Aggregate, samples []Sample) (Aggregate, BatchResult) {
	res := BatchResult{Reasons: map[string]int{}}
	for _, s := range samples {
		var v Verdict
		agg, v = p.Process(agg, s)
		if v.Accepted() {
			res.Accepted++
			continue
		}
		res.Rejected++
		res.Reasons[v.String()]++
	}
	return agg, res
}

func (p Processor) resolveTimestamp(v any) time.Time {
	raw, ok := v.(string)
	if !ok {
		return p.now()
	}
	if ts, ok := ParseTimestamp(raw); ok {
		return ts
	}
	return p.now()
}

func parseCoordinate(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04:05-07",
	"2006-01-02 15:04:05-07",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts ISO-8601 date-times with either a "T" or a space
// separator and optional fractional seconds. Values without a zone are UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp is the string form stored on location records.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

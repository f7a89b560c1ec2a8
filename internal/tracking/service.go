package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backend-geotrack/internal/db"
	"backend-geotrack/internal/events"
	"backend-geotrack/internal/logging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session already stopped")
)

// Broadcaster fans live updates out to whoever watches a session.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

// Service is the session store and lifecycle manager around the Processor.
// Each ingest runs in its own transaction holding the session row lock, which
// keeps a single writer per session even across server instances.
type Service struct {
	db     db.Querier
	hub    Broadcaster
	events events.Publisher
	log    *slog.Logger
	now    func() time.Time
	proc   Processor
}

func NewService(db db.Querier, hub Broadcaster, publisher events.Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &Service{db: db, hub: hub, events: publisher, log: log, now: time.Now}
	s.proc = NewProcessor(func() time.Time { return s.now() })
	return s
}

const sessionColumns = `id, user_id, mode, status, started_at,
	ended_at IS NOT NULL, COALESCE(ended_at, started_at),
	total_distance_m, total_time_s,
	last_timestamp IS NOT NULL, COALESCE(last_lat, 0), COALESCE(last_lng, 0), COALESCE(last_timestamp, started_at)`

func scanSession(row pgx.Row) (Session, *Fix, error) {
	var (
		s       Session
		mode    string
		ended   bool
		endedAt time.Time
		hasLast bool
		last    Fix
	)
	err := row.Scan(&s.ID, &s.UserID, &mode, &s.Status, &s.StartedAt,
		&ended, &endedAt,
		&s.TotalDistanceM, &s.TotalTimeS,
		&hasLast, &last.Lat, &last.Lng, &last.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, nil, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, nil, err
	}
	s.Mode = Mode(mode)
	if ended {
		s.EndedAt = &endedAt
	}
	if !hasLast {
		return s, nil, nil
	}
	return s, &last, nil
}

func aggregateOf(s Session, last *Fix) Aggregate {
	return Aggregate{
		Last:           last,
		TotalDistanceM: s.TotalDistanceM,
		TotalTimeS:     s.TotalTimeS,
		Mode:           s.Mode,
	}
}

// loadSession reads a session visible to userID. An empty userID skips the
// ownership check.
func loadSession(ctx context.Context, q db.Querier, userID, sessionID string, forUpdate bool) (Session, *Fix, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return Session{}, nil, ErrSessionNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM track_sessions WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, last, err := scanSession(q.QueryRow(ctx, query, sessionID))
	if err != nil {
		return Session{}, nil, err
	}
	if userID != "" && s.UserID != userID {
		return Session{}, nil, ErrSessionNotFound
	}
	return s, last, nil
}

func (s *Service) StartSession(ctx context.Context, userID string, mode string) (Session, error) {
	session := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      ParseMode(mode),
		Status:    StatusActive,
		StartedAt: s.now(),
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO track_sessions (id, user_id, mode, started_at, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING started_at, status
	`, session.ID, session.UserID, string(session.Mode), session.StartedAt, session.Status)
	if err := row.Scan(&session.StartedAt, &session.Status); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	s.publish(ctx, events.NewEnvelope(events.SessionStarted, session.ID, userID, map[string]any{"mode": session.Mode}))
	return session, nil
}

// Ingest folds samples into the session in order and persists the result
// once, only if at least one sample was accepted.
func (s *Service) Ingest(ctx context.Context, userID, sessionID string, samples []Sample) (IngestResult, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return IngestResult{}, ErrSessionNotFound
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin ingest: %w", err)
	}

	session, last, err := loadSession(ctx, tx, userID, sessionID, true)
	if err != nil {
		_ = tx.Rollback(ctx)
		return IngestResult{}, err
	}
	if session.EndedAt != nil {
		_ = tx.Rollback(ctx)
		return IngestResult{}, ErrSessionClosed
	}

	next, batch := s.proc.ProcessBatch(aggregateOf(session, last), samples)
	result := IngestResult{
		SessionID:   sessionID,
		BatchResult: batch,
		Records:     next.History,
		Totals:      NewTotals(next.TotalDistanceM, next.TotalTimeS),
	}
	if batch.Rejected > 0 {
		s.log.Debug("samples rejected", "session_id", sessionID, "rejected", batch.Rejected, "reasons", batch.Reasons)
	}

	if batch.Accepted == 0 {
		_ = tx.Rollback(ctx)
		result.Records = []LocationRecord{}
		return result, nil
	}

	if err := persist(ctx, tx, sessionID, next); err != nil {
		_ = tx.Rollback(ctx)
		return IngestResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("commit ingest: %w", err)
	}

	if s.hub != nil {
		payload, err := json.Marshal(LiveUpdate{SessionID: sessionID, Records: next.History, Totals: result.Totals})
		if err != nil {
			s.log.Error("encode live update failed", "session_id", sessionID, "error", err)
		} else {
			s.hub.Broadcast(sessionID, payload)
		}
	}
	return result, nil
}

// persist appends the records accepted in this call and writes the new
// aggregate head. next.History holds only those records because stored
// sessions are loaded without history.
func persist(ctx context.Context, tx pgx.Tx, sessionID string, next Aggregate) error {
	for _, rec := range next.History {
		_, err := tx.Exec(ctx, `
			INSERT INTO track_points (session_id, location, mode, recorded_at, distance_increment_m, time_increment_s)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5, $6, $7)
		`, sessionID, rec.Lng, rec.Lat, string(rec.Mode), rec.RecordedAt(), rec.DistanceIncrement, rec.TimeIncrement)
		if err != nil {
			return fmt.Errorf("insert point: %w", err)
		}
	}

	_, err := tx.Exec(ctx, `
		UPDATE track_sessions
		SET total_distance_m=$2, total_time_s=$3, last_lat=$4, last_lng=$5, last_timestamp=$6, mode=$7
		WHERE id=$1
	`, sessionID, next.TotalDistanceM, next.TotalTimeS, next.Last.Lat, next.Last.Lng, next.Last.Timestamp, string(next.Mode))
	if err != nil {
		return fmt.Errorf("update session totals: %w", err)
	}
	return nil
}

// Stop finalizes total time and closes the session.
func (s *Service) Stop(ctx context.Context, userID, sessionID string) (Summary, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return Summary{}, ErrSessionNotFound
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("begin stop: %w", err)
	}

	session, last, err := loadSession(ctx, tx, userID, sessionID, true)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Summary{}, err
	}
	if session.EndedAt != nil {
		_ = tx.Rollback(ctx)
		return Summary{}, ErrSessionClosed
	}

	now := s.now()
	final := Finalize(aggregateOf(session, last), session.StartedAt, now)

	var pointCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM track_points WHERE session_id=$1`, sessionID).Scan(&pointCount); err != nil {
		_ = tx.Rollback(ctx)
		return Summary{}, fmt.Errorf("count points: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE track_sessions
		SET total_time_s=$2, ended_at=$3, status=$4
		WHERE id=$1
	`, sessionID, final.TotalTimeS, now, StatusCompleted)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Summary{}, fmt.Errorf("close session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Summary{}, fmt.Errorf("commit stop: %w", err)
	}

	summary := Summary{
		SessionID:  sessionID,
		Status:     StatusCompleted,
		StartedAt:  session.StartedAt,
		EndedAt:    &now,
		PointCount: pointCount,
		Totals:     NewTotals(final.TotalDistanceM, final.TotalTimeS),
	}
	s.publish(ctx, events.NewEnvelope(events.SessionStopped, sessionID, session.UserID, summary.Totals))
	return summary, nil
}

func (s *Service) Summary(ctx context.Context, userID, sessionID string) (Summary, error) {
	session, _, err := loadSession(ctx, s.db, userID, sessionID, false)
	if err != nil {
		return Summary{}, err
	}

	var pointCount int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM track_points WHERE session_id=$1`, sessionID).Scan(&pointCount); err != nil {
		return Summary{}, err
	}

	return Summary{
		SessionID:  session.ID,
		Status:     session.Status,
		StartedAt:  session.StartedAt,
		EndedAt:    session.EndedAt,
		PointCount: pointCount,
		Totals:     session.Totals(),
	}, nil
}

func (s *Service) Points(ctx context.Context, userID, sessionID string) ([]LocationRecord, error) {
	if _, _, err := loadSession(ctx, s.db, userID, sessionID, false); err != nil {
		return nil, err
	}
	return s.points(ctx, sessionID)
}

func (s *Service) points(ctx context.Context, sessionID string) ([]LocationRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT ST_Y(location::geometry), ST_X(location::geometry), mode, recorded_at, distance_increment_m, time_increment_s
		FROM track_points WHERE session_id=$1
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []LocationRecord{}
	for rows.Next() {
		var (
			p          LocationRecord
			mode       string
			recordedAt time.Time
		)
		if err := rows.Scan(&p.Lat, &p.Lng, &mode, &recordedAt, &p.DistanceIncrement, &p.TimeIncrement); err != nil {
			return nil, err
		}
		p.Mode = Mode(mode)
		p.Timestamp = FormatTimestamp(recordedAt)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (s *Service) Detail(ctx context.Context, userID, sessionID string) (Detail, error) {
	session, _, err := loadSession(ctx, s.db, userID, sessionID, false)
	if err != nil {
		return Detail{}, err
	}
	points, err := s.points(ctx, sessionID)
	if err != nil {
		return Detail{}, err
	}

	d := Detail{Session: session, Locations: points}
	if len(points) > 0 {
		d.StartLat = &points[0].Lat
		d.StartLng = &points[0].Lng
	}
	return d, nil
}

// ListCompleted returns the user's finished sessions, newest first.
func (s *Service) ListCompleted(ctx context.Context, userID string) ([]Overview, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM track_sessions
		WHERE user_id=$1 AND ended_at IS NOT NULL
		ORDER BY started_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Overview{}
	for rows.Next() {
		session, _, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		totals := session.Totals()
		list = append(list, Overview{
			ID:         session.ID,
			Mode:       session.Mode,
			StartedAt:  session.StartedAt,
			EndedAt:    session.EndedAt,
			DistanceKm: totals.TotalDistanceKm,
			TimeHours:  totals.TotalTimeHours,
		})
	}
	return list, rows.Err()
}

func (s *Service) publish(ctx context.Context, e events.Envelope) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "type", e.Type, "session_id", e.SessionID, "error", err)
	}
}

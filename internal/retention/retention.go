// Package retention removes finished tracking sessions past their keep-by
// date. Points go with their session through the foreign key cascade.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"backend-geotrack/internal/db"
	"backend-geotrack/internal/logging"
)

type Report struct {
	Cutoff    time.Time `json:"cutoff"`
	DryRun    bool      `json:"dry_run"`
	Matched   int       `json:"matched"`
	Deleted   int64     `json:"deleted"`
	Remaining int       `json:"remaining"`
}

type Service struct {
	db  db.Querier
	log *slog.Logger
}

func NewService(q db.Querier, log *slog.Logger) *Service {
	if log == nil {
		log = logging.Discard()
	}
	return &Service{db: q, log: log}
}

// Cutoff is the start time before which a finished session is purged.
func Cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// Purge deletes completed sessions started before cutoff. Active sessions are
// never touched regardless of age. With dryRun only the match count is taken.
func (s *Service) Purge(ctx context.Context, cutoff time.Time, dryRun bool) (Report, error) {
	report := Report{Cutoff: cutoff, DryRun: dryRun}

	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM track_sessions
		WHERE started_at < $1 AND ended_at IS NOT NULL
	`, cutoff).Scan(&report.Matched)
	if err != nil {
		return Report{}, fmt.Errorf("count expired sessions: %w", err)
	}

	if !dryRun && report.Matched > 0 {
		tag, err := s.db.Exec(ctx, `
			DELETE FROM track_sessions
			WHERE started_at < $1 AND ended_at IS NOT NULL
		`, cutoff)
		if err != nil {
			return Report{}, fmt.Errorf("delete expired sessions: %w", err)
		}
		report.Deleted = tag.RowsAffected()
	}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM track_sessions`).Scan(&report.Remaining); err != nil {
		return Report{}, fmt.Errorf("count remaining sessions: %w", err)
	}

	s.log.Info("retention purge",
		"cutoff", cutoff,
		"dry_run", dryRun,
		"matched", report.Matched,
		"deleted", report.Deleted,
		"remaining", report.Remaining)
	return report, nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"backend-geotrack/internal/config"
	"backend-geotrack/internal/retention"

	"github.com/jackc/pgx/v5/pgxpool"
)

var errCleanup = errors.New("cleanup error")

type fakePurger struct {
	cutoff time.Time
	dryRun bool
	report retention.Report
	err    error
}

func (f *fakePurger) Purge(_ context.Context, cutoff time.Time, dryRun bool) (retention.Report, error) {
	f.cutoff, f.dryRun = cutoff, dryRun
	return f.report, f.err
}

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(nil, 30)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.days != 30 || opts.dryRun {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"--days=7", "--dry-run"}, 30)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.days != 7 || !opts.dryRun {
		t.Fatalf("unexpected options: %+v", opts)
	}

	if _, err := parseFlags([]string{"--days=-1"}, 30); err == nil {
		t.Fatalf("expected negative days to be rejected")
	}
	if _, err := parseFlags([]string{"--weeks=2"}, 30); err == nil {
		t.Fatalf("expected unknown flag error")
	}
}

func TestPurgeReportsDeletion(t *testing.T) {
	now := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	svc := &fakePurger{report: retention.Report{Matched: 4, Deleted: 4, Remaining: 9}}
	var out bytes.Buffer

	if err := purge(context.Background(), svc, options{days: 30}, now, &out); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !svc.cutoff.Equal(now.AddDate(0, 0, -30)) || svc.dryRun {
		t.Fatalf("unexpected purge call: cutoff=%v dry=%v", svc.cutoff, svc.dryRun)
	}
	want := "Deleted 4 old tracking sessions\nTotal sessions remaining: 9\n"
	if out.String() != want {
		t.Fatalf("output %q, want %q", out.String(), want)
	}
}

func TestPurgeReportsDryRun(t *testing.T) {
	svc := &fakePurger{report: retention.Report{Matched: 2, Remaining: 5, DryRun: true}}
	var out bytes.Buffer

	if err := purge(context.Background(), svc, options{days: 10, dryRun: true}, time.Now(), &out); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if !svc.dryRun || !strings.HasPrefix(out.String(), "Dry run: would delete 2 sessions older than 10 days") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestPurgeError(t *testing.T) {
	svc := &fakePurger{err: errCleanup}
	if err := purge(context.Background(), svc, options{days: 1}, time.Now(), &bytes.Buffer{}); !errors.Is(err, errCleanup) {
		t.Fatalf("expected error, got %v", err)
	}
}

func TestRunConnectError(t *testing.T) {
	deps := cleanupDeps{
		loadConfig:      func() config.Config { return config.Config{RetentionDays: 30} },
		connectPostgres: func(config.Config) (*pgxpool.Pool, error) { return nil, errCleanup },
		now:             time.Now,
		stdout:          &bytes.Buffer{},
	}
	if err := run(context.Background(), nil, deps); !errors.Is(err, errCleanup) {
		t.Fatalf("expected connect error, got %v", err)
	}
}

func TestRunFlagError(t *testing.T) {
	connected := false
	deps := cleanupDeps{
		loadConfig: func() config.Config { return config.Config{RetentionDays: 30} },
		connectPostgres: func(config.Config) (*pgxpool.Pool, error) {
			connected = true
			return nil, errCleanup
		},
	}
	if err := run(context.Background(), []string{"--days=x"}, deps); err == nil {
		t.Fatalf("expected flag error")
	}
	if connected {
		t.Fatalf("should not connect with bad flags")
	}
}

func TestDefaultDeps(t *testing.T) {
	deps := defaultDeps()
	if deps.loadConfig == nil || deps.connectPostgres == nil || deps.now == nil || deps.stdout == nil {
		t.Fatalf("expected default deps to be set")
	}
}

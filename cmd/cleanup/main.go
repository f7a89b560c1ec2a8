// Command cleanup purges finished tracking sessions older than a number of
// days. Run it from cron; --dry-run reports without deleting.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"backend-geotrack/internal/config"
	"backend-geotrack/internal/db"
	"backend-geotrack/internal/logging"
	"backend-geotrack/internal/retention"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
)

type cleanupDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	now             func() time.Time
	stdout          io.Writer
}

func defaultDeps() cleanupDeps {
	return cleanupDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		now:             time.Now,
		stdout:          os.Stdout,
	}
}

type options struct {
	days   int
	dryRun bool
}

func parseFlags(args []string, defaultDays int) (options, error) {
	fs := pflag.NewFlagSet("cleanup", pflag.ContinueOnError)
	var opts options
	fs.IntVar(&opts.days, "days", defaultDays, "delete finished sessions started more than this many days ago")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "report what would be deleted without deleting")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.days < 0 {
		return options{}, fmt.Errorf("--days must not be negative, got %d", opts.days)
	}
	return opts, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], defaultDeps()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, deps cleanupDeps) error {
	cfg := deps.loadConfig()
	log := logging.New(cfg.LogLevel, os.Stderr)

	opts, err := parseFlags(args, cfg.RetentionDays)
	if err != nil {
		return err
	}

	pool, err := deps.connectPostgres(cfg)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}
	defer pool.Close()

	return purge(ctx, retention.NewService(pool, log), opts, deps.now(), deps.stdout)
}

type purger interface {
	Purge(ctx context.Context, cutoff time.Time, dryRun bool) (retention.Report, error)
}

func purge(ctx context.Context, svc purger, opts options, now time.Time, out io.Writer) error {
	report, err := svc.Purge(ctx, retention.Cutoff(now, opts.days), opts.dryRun)
	if err != nil {
		return err
	}
	if opts.dryRun {
		fmt.Fprintf(out, "Dry run: would delete %d sessions older than %d days\n", report.Matched, opts.days)
	} else {
		fmt.Fprintf(out, "Deleted %d old tracking sessions\n", report.Deleted)
	}
	fmt.Fprintf(out, "Total sessions remaining: %d\n", report.Remaining)
	return nil
}

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-geotrack/internal/config"
	"backend-geotrack/internal/db"
	"backend-geotrack/internal/events"
	"backend-geotrack/internal/logging"
	"backend-geotrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	migrate         func(context.Context, string, *slog.Logger) error
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectEvents   func(config.Config, *slog.Logger) events.Publisher
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, events.Publisher, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		migrate:         db.Migrate,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectEvents:   connectEvents,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	log := logging.New(cfg.LogLevel, nil)
	slog.SetDefault(log)

	ctx := context.Background()
	if cfg.AutoMigrate {
		if err := deps.migrate(ctx, cfg.PostgresURL, log); err != nil {
			log.Error("migration failed", "error", err)
		}
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
	}

	rdb := deps.connectRedis(cfg)
	publisher := deps.connectEvents(cfg, log)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(ctx, cfg, pg, rdb, publisher, signals, nil); err != nil {
		log.Error("server exited with error", "error", err)
	}
}

// connectEvents returns a RabbitMQ publisher when AMQP_URL is set. Events are
// best effort, so an unreachable broker degrades to dropping them.
func connectEvents(cfg config.Config, log *slog.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.Nop{}
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, log)
	if err != nil {
		log.Warn("event broker unavailable, events disabled", "error", err)
		return events.Nop{}
	}
	return p
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, publisher events.Publisher, signals <-chan os.Signal, listen ListenFunc) error {
	var store db.Querier
	if pg != nil {
		store = pg
	}
	srv := server.NewServer(cfg, store, rdb, publisher, slog.Default())

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	_ = srv.Close()
	if closer, ok := publisher.(io.Closer); ok {
		_ = closer.Close()
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}

package server

import (
	"log/slog"

	"backend-geotrack/internal/auth"
	"backend-geotrack/internal/config"
	"backend-geotrack/internal/db"
	"backend-geotrack/internal/events"
	"backend-geotrack/internal/logging"
	"backend-geotrack/internal/route"
	"backend-geotrack/internal/stream"
	"backend-geotrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       db.Querier
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Service
	Log      *slog.Logger
}

func NewServer(cfg config.Config, store db.Querier, redisClient *redis.Client, publisher events.Publisher, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	hub := stream.NewHub(redisClient, log)
	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       store,
		Redis:    redisClient,
		Stream:   hub,
		Tracking: tracking.NewService(store, hub, publisher, log),
		Log:      log,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	proxy := route.NewProxy(s.Cfg.ORSBaseURL, s.Cfg.ORSAPIKey, route.NewCache(s.Cfg.RouteCacheSize, s.Cfg.RouteCacheTTL), s.Log)

	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, s.Tracking, jwtMiddleware, s.Log)
	route.RegisterRoutes(s.App.Group("/route"), proxy, jwtMiddleware)
}

// Close releases what the server owns. The database and Redis clients belong
// to the caller.
func (s *Server) Close() error {
	return s.Stream.Close()
}

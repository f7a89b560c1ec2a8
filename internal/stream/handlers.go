package stream

import (
	"context"
	"log/slog"

	"backend-geotrack/internal/logging"
	"backend-geotrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Ingestor is the part of tracking.Service the ingestion socket drives.
type Ingestor interface {
	Ingest(ctx context.Context, userID, sessionID string, samples []tracking.Sample) (tracking.IngestResult, error)
}

func RegisterRoutes(r fiber.Router, hub *Hub, ingestor Ingestor, authMiddleware fiber.Handler, log *slog.Logger) {
	if log == nil {
		log = logging.Discard()
	}

	r.Get("/ws/:sessionID", websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		client := hub.Register(sessionID)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))

	r.Get("/ingest", authMiddleware, websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("user_id").(string)
		serveIngest(c, ingestor, userID, log)
	}))
}

// serveIngest applies every message read from the socket. Nothing is written
// back; bad messages and failed ingests are logged and the loop moves on.
func serveIngest(c *websocket.Conn, ingestor Ingestor, userID string, log *slog.Logger) {
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		env, err := tracking.DecodeEnvelope(msg)
		if err != nil {
			log.Warn("ingest message dropped", "user_id", userID, "error", err)
			continue
		}
		if env.SessionID == "" {
			log.Warn("ingest message dropped", "user_id", userID, "error", "missing session_id")
			continue
		}

		res, err := ingestor.Ingest(context.Background(), userID, env.SessionID, env.Samples)
		if err != nil {
			log.Warn("ingest failed", "user_id", userID, "session_id", env.SessionID, "error", err)
			continue
		}
		log.Debug("ingested", "session_id", env.SessionID, "accepted", res.Accepted, "rejected", res.Rejected)
	}
}

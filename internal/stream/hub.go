package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"backend-geotrack/internal/logging"

	"github.com/redis/go-redis/v9"
)

const channelPattern = "tracking:*:broadcast"

// Hub fans live session updates out to websocket watchers. With Redis the
// update goes through a pub/sub channel so watchers connected to any server
// instance receive it; without Redis delivery is local only.
type Hub struct {
	redis   *redis.Client
	relay   *redis.PubSub
	log     *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		pubsub := redisClient.PSubscribe(ctx, channelPattern)
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Warn("redis relay unavailable, broadcasting locally", "error", err)
			_ = pubsub.Close()
		} else {
			h.relay = pubsub
			go h.relayRedis(pubsub)
		}
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessionClients, ok := h.clients[client.SessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(h.clients, client.SessionID)
		}
	}
	close(client.Send)
}

// Broadcast sends payload to every watcher of sessionID. Slow watchers whose
// buffer is full miss the update rather than block the caller.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	if h.relay != nil {
		err := h.redis.Publish(context.Background(), redisChannel(sessionID), payload).Err()
		if err == nil {
			return
		}
		h.log.Warn("redis publish failed, delivering locally", "session_id", sessionID, "error", err)
	}
	h.deliver(sessionID, payload)
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) relayRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		if sessionID == "" {
			continue
		}
		h.deliver(sessionID, []byte(msg.Payload))
	}
}

// Close stops the Redis relay. Registered clients are left to their handlers.
func (h *Hub) Close() error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Close()
}

func redisChannel(sessionID string) string {
	return "tracking:" + sessionID + ":broadcast"
}

func sessionIDFromChannel(ch string) string {
	// tracking:{session}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}

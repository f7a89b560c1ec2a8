// Package events publishes session lifecycle notifications to RabbitMQ so that
// reporting and retention jobs can react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"backend-geotrack/internal/logging"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "tracking.events"

const (
	SessionStarted = "session.started"
	SessionStopped = "session.stopped"
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

func NewEnvelope(eventType, sessionID, userID string, payload any) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		SessionID:  sessionID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	conn *amqp.Connection
	ch   channel
	log  *slog.Logger
	mu   sync.Mutex
}

// NewAMQPPublisher connects to the broker and declares the topic exchange.
func NewAMQPPublisher(url string, log *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, log *slog.Logger) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare %s: %w", Exchange, err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &AMQPPublisher{ch: ch, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, Exchange, e.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.log.Debug("event published", "type", e.Type, "session_id", e.SessionID)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ch.Close()
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

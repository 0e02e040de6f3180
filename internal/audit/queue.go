package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docvault.org/internal/obs"
)

const decisionQueue = "authz.decisions"

// QueueSink publishes events to a durable RabbitMQ queue so security
// monitoring consumes them independently of the API's own logs. The
// connection is dialed lazily and re-dialed after failures; every
// error is logged and dropped, keeping the sink fire-and-forget.
type QueueSink struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewQueueSink prepares a sink for the given AMQP URL. No connection
// is made until the first Publish.
func NewQueueSink(url string) *QueueSink {
	return &QueueSink{url: url}
}

func (s *QueueSink) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil && !s.conn.IsClosed() {
		return s.ch, nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn, s.ch = nil, nil
	}

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(decisionQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	s.conn, s.ch = conn, ch
	return ch, nil
}

// Publish sends the event as a persistent JSON message.
func (s *QueueSink) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	ch, err := s.channel()
	if err != nil {
		obs.Logger().WithError(err).Warn("audit queue unavailable, dropping event")
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		obs.Logger().WithError(err).Warn("audit event marshal failed")
		return
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", decisionQueue, false, false, pub); err != nil {
		obs.Logger().WithError(err).Warn("audit publish failed, dropping event")
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn, s.ch = nil, nil
		s.mu.Unlock()
	}
}

// Close releases the AMQP connection.
func (s *QueueSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn, s.ch = nil, nil
	}
}

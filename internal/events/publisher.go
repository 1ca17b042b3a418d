package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher emits envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange with publisher
// confirms enabled.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *logrus.Entry

	mu sync.Mutex
	ch *amqp091.Channel
}

// NewAMQP dials the broker and declares the exchange.
func NewAMQP(url, exchange string, log *logrus.Entry) (*AMQPPublisher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: enable confirms: %w", err)
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, log: log, ch: ch}, nil
}

// Publish marshals the envelope and sends it under the routing key.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", key, err)
	}
	p.log.WithFields(logrus.Fields{"key": key, "event_id": env.Meta.ID}).Debug("event published")
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}

// Nop discards events; used when AMQP is not configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }
func (Nop) Close() error                                    { return nil }

// Recorder captures published envelopes for assertions in tests.
type Recorder struct {
	mu        sync.Mutex
	Published []RecordedEvent
}

// RecordedEvent is one captured publish call.
type RecordedEvent struct {
	Key      string
	Envelope Envelope
}

func (r *Recorder) Publish(_ context.Context, key string, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Published = append(r.Published, RecordedEvent{Key: key, Envelope: env})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Keys returns the routing keys in publish order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, len(r.Published))
	for i, ev := range r.Published {
		keys[i] = ev.Key
	}
	return keys
}

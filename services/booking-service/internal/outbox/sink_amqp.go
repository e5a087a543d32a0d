package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// AMQPSink publishes each record to a durable queue named after its event type, through the
// default exchange. The connection is reopened on the next publish after a failure.
type AMQPSink struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewAMQPSink(url string) *AMQPSink {
	return &AMQPSink{url: url, declared: make(map[string]bool)}
}

// Publishing builds the AMQP message for a record.
func Publishing(ctx context.Context, r Record) amqp.Publishing {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := amqp.Table{"event_type": r.EventType}
	for k, v := range carrier {
		headers[k] = v
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.EventID,
		Type:         r.EventType,
		Timestamp:    r.CreatedAt.UTC(),
		Headers:      headers,
		Body:         r.Payload,
	}
}

func (s *AMQPSink) Publish(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}
	if !s.declared[r.EventType] {
		if _, err := ch.QueueDeclare(r.EventType, true, false, false, false, nil); err != nil {
			s.reset()
			return fmt.Errorf("amqp queue declare %s: %w", r.EventType, err)
		}
		s.declared[r.EventType] = true
	}
	if err := ch.PublishWithContext(ctx, "", r.EventType, false, false, Publishing(ctx, r)); err != nil {
		s.reset()
		return fmt.Errorf("amqp publish %s: %w", r.EventType, err)
	}
	return nil
}

func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.reset()
	conn, err := amqp.DialConfig(s.url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
	s.declared = make(map[string]bool)
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Ping dials the broker, for readiness checks.
func (s *AMQPSink) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		conn, err := amqp.DialConfig(s.url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
		if err == nil {
			_ = conn.Close()
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

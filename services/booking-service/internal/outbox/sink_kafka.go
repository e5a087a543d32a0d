package outbox

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
)

type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers string) (*KafkaSink, error) {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka sink: no brokers configured")
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}, nil
}

// Message builds the Kafka message for a record: keyed by aggregate so one appointment's
// events stay ordered, with event metadata and trace context in headers.
func Message(ctx context.Context, r Record) kafka.Message {
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return msg
}

func (s *KafkaSink) Publish(ctx context.Context, r Record) error {
	return s.writer.WriteMessages(ctx, Message(ctx, r))
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

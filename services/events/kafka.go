package eventsvc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/trezcool/bosvoting/core"
)

type kafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*kafkaPublisher)(nil)

// NewKafkaPublisher writes events to the configured topic, keyed by poll id.
// It falls back to a no-op Publisher when no broker is configured.
func NewKafkaPublisher(conf *core.Config, logger core.Logger) Publisher {
	if len(conf.Kafka.Brokers) == 0 {
		return NewNopPublisher()
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:        kafka.TCP(conf.Kafka.Brokers...),
			Topic:       conf.Kafka.Topic,
			Balancer:    &kafka.LeastBytes{},
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error("kafka: "+msg, args...) }),
		},
	}
}

func toMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.PollID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}

func (p *kafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msg, err := toMessage(ev)
		if err != nil {
			return errors.Wrapf(err, "encoding %s event", ev.Type)
		}
		msgs = append(msgs, msg)
	}
	return errors.Wrap(p.writer.WriteMessages(ctx, msgs...), "writing events to kafka")
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/funnel/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes stage events keyed by actor, so one actor's
// events stay ordered within a partition.
type KafkaProducer struct {
	writers map[string]messageWriter
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	writers := make(map[string]messageWriter)

	for name, topic := range cfg.Topics {
		writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			Async:        true,
		}
	}

	return &KafkaProducer{writers: writers}, nil
}

func (p *KafkaProducer) ProduceEvent(ctx context.Context, actorID string, event interface{}) error {
	w, ok := p.writers["events"]
	if !ok {
		return errors.New("kafka: no events topic configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(actorID),
		Value: data,
	})
}

// Close flushes pending async batches and closes every writer.
func (p *KafkaProducer) Close() error {
	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

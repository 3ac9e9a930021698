package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/funnel/internal/config"
)

// MessageProcessor receives one decoded stage event per message and buffers
// it for the events table. Flush writes whatever is buffered.
type MessageProcessor interface {
	Process(ctx context.Context, event map[string]interface{}) error
	Flush()
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// actorFields are the payload keys the transformer accepts as the actor.
var actorFields = []string{"actor_id", "user_id", "session_id"}

// KafkaConsumer reads funnel stage events (one JSON object per message,
// keyed by actor) and feeds them to a MessageProcessor. Offsets are committed
// per message whether or not the event was usable.
type KafkaConsumer struct {
	reader    messageReader
	topic     string
	group     string
	processor MessageProcessor
}

// NewKafkaConsumer joins cfg.ConsumerGroup on the "events" topic, defaulting
// to funnel.events.raw.
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	topic := cfg.Topics["events"]
	if topic == "" {
		topic = "funnel.events.raw"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		topic:     topic,
		group:     cfg.ConsumerGroup,
		processor: processor,
	}, nil
}

// Start blocks, handling stage events until ctx is cancelled.
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Str("topic", c.topic).
		Str("group", c.group).
		Msg("Consuming stage events")

	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("Failed to fetch stage event")
			continue
		}
		c.handle(ctx, msg)
	}
	log.Info().Str("topic", c.topic).Msg("Stage event consumer stopped")
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) {
	event, err := decodeStageEvent(msg)
	if err != nil {
		log.Warn().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Skipping undecodable stage event")
	} else if err := c.processor.Process(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("actor", string(msg.Key)).
			Int64("offset", msg.Offset).
			Msg("Skipping malformed stage event")
	}

	// Unusable events are committed too; redelivery cannot fix them.
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit stage event")
	}
}

// decodeStageEvent parses msg.Value. Producers key messages by actor, so the
// key stands in for a payload without an actor field.
func decodeStageEvent(msg kafka.Message) (map[string]interface{}, error) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, errors.New("empty stage event")
	}
	if len(msg.Key) == 0 {
		return event, nil
	}
	for _, f := range actorFields {
		if v, ok := event[f]; ok && v != nil && v != "" {
			return event, nil
		}
	}
	event["actor_id"] = string(msg.Key)
	return event, nil
}

// Close flushes buffered events, then leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	log.Info().Str("topic", c.topic).Msg("Closing stage event consumer")
	c.processor.Flush()
	return c.reader.Close()
}

package generator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gosight/funnel/internal/funnel"
)

// EventProducer publishes a JSON payload keyed by actor.
// *producer.KafkaProducer implements it.
type EventProducer interface {
	ProduceEvent(ctx context.Context, actorID string, event interface{}) error
}

// Message is the wire shape consumed by the funnel processor.
type Message struct {
	EventID   string  `json:"event_id"`
	ActorID   string  `json:"actor_id"`
	CityTier  string  `json:"city_tier"`
	Category  string  `json:"category,omitempty"`
	SellerID  string  `json:"seller_id,omitempty"`
	Stage     string  `json:"stage"`
	Amount    float64 `json:"amount"`
	Timestamp string  `json:"timestamp"`
}

// NewMessage converts a generated event to its wire shape.
func NewMessage(e funnel.Event) Message {
	return Message{
		EventID:   uuid.New().String(),
		ActorID:   e.ActorID,
		CityTier:  e.CityTier,
		Category:  e.Category,
		SellerID:  e.SellerID,
		Stage:     e.Stage.String(),
		Amount:    e.Amount,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// KafkaSink publishes every generated event.
type KafkaSink struct {
	Producer EventProducer
}

func (k KafkaSink) Write(ctx context.Context, e funnel.Event) error {
	return k.Producer.ProduceEvent(ctx, e.ActorID, NewMessage(e))
}

package transformer

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/storage"
)

// Transformer converts raw stage messages into canonical ClickHouse rows.
type Transformer struct {
	normalizer *loader.Normalizer
}

func New(n *loader.Normalizer) *Transformer {
	if n == nil {
		n = loader.NewNormalizer(nil)
	}
	return &Transformer{normalizer: n}
}

// TransformEvent normalises a decoded JSON message. Messages with a stage
// outside the vocabulary return an error for which loader.IsUnknownStage is true.
func (t *Transformer) TransformEvent(raw map[string]interface{}) (*storage.EventRow, error) {
	rawEvent := loader.RawEvent{
		ActorID:   firstString(raw, "actor_id", "user_id", "session_id"),
		CityTier:  getString(raw, "city_tier"),
		Category:  getString(raw, "category"),
		SellerID:  getString(raw, "seller_id"),
		Stage:     firstString(raw, "stage", "event"),
		Amount:    firstString(raw, "amount", "order_value"),
		Timestamp: getString(raw, "timestamp"),
	}

	ev, err := t.normalizer.Normalize(rawEvent)
	if err != nil {
		return nil, err
	}

	return &storage.EventRow{
		EventID:   eventID(raw),
		ActorID:   ev.ActorID,
		CityTier:  ev.CityTier,
		Category:  ev.Category,
		SellerID:  ev.SellerID,
		Stage:     ev.Stage.String(),
		Amount:    ev.Amount,
		Timestamp: ev.Timestamp,
	}, nil
}

// eventID keeps a valid UUID from the message and generates one otherwise.
func eventID(raw map[string]interface{}) string {
	if v, ok := raw["event_id"].(string); ok {
		if _, err := uuid.Parse(v); err == nil {
			return v
		}
	}
	return uuid.New().String()
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := getString(m, k); v != "" {
			return v
		}
	}
	return ""
}

// getString reads a string or JSON number as text.
func getString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

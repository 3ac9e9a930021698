package transformer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gosight/funnel/internal/loader"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTransformEvent(t *testing.T) {
	tr := New(nil)
	row, err := tr.TransformEvent(decode(t, `{
		"event_id": "6f1c1d7e-6a3b-4d8e-9a8f-2b2f8d8c1a11",
		"user_id": 42,
		"city_tier": 2,
		"category": "books",
		"stage": "purchased",
		"amount": 1299.5,
		"timestamp": 1709285400000
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if row.ActorID != "42" || row.CityTier != "Tier-2" || row.Stage != "purchase" || row.Amount != 1299.5 {
		t.Fatalf("unexpected row %+v", row)
	}
	if row.EventID != "6f1c1d7e-6a3b-4d8e-9a8f-2b2f8d8c1a11" {
		t.Fatalf("event id not preserved: %s", row.EventID)
	}
	if !row.Timestamp.Equal(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("timestamp %v", row.Timestamp)
	}
}

func TestTransformEvent_GeneratesEventID(t *testing.T) {
	row, err := New(nil).TransformEvent(decode(t, `{"session_id":"s1","event":"view","timestamp":"2024-03-01T09:30:00Z","event_id":"nope"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := uuid.Parse(row.EventID); err != nil {
		t.Fatalf("generated id is not a uuid: %q", row.EventID)
	}
	if row.Amount != 0 || row.Stage != "visit" {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestTransformEvent_Errors(t *testing.T) {
	tr := New(nil)
	if _, err := tr.TransformEvent(decode(t, `{"user_id":"u","stage":"wishlist","timestamp":"2024-01-01"}`)); !loader.IsUnknownStage(err) {
		t.Fatalf("want unknown stage, got %v", err)
	}
	if _, err := tr.TransformEvent(decode(t, `{"user_id":"u","stage":"visit","timestamp":"later"}`)); err == nil || loader.IsUnknownStage(err) {
		t.Fatalf("want malformed timestamp error, got %v", err)
	}
}

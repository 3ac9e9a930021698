package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/funnel/internal/config"
)

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestProduceEvent_KeysByActor(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaProducer{writers: map[string]messageWriter{"events": w}}

	if err := p.ProduceEvent(context.Background(), "u7", map[string]string{"stage": "visit"}); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "u7" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var body map[string]string
	if err := json.Unmarshal(w.msgs[0].Value, &body); err != nil || body["stage"] != "visit" {
		t.Fatalf("bad payload %s", w.msgs[0].Value)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestProduceEvent_NoTopic(t *testing.T) {
	p := &KafkaProducer{writers: map[string]messageWriter{}}
	if err := p.ProduceEvent(context.Background(), "u1", struct{}{}); err == nil {
		t.Fatalf("want error without an events writer")
	}
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(config.KafkaConfig{}); err == nil {
		t.Fatalf("want error without brokers")
	}
}

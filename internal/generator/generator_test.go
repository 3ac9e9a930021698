package generator

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/loader"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Users = 200
	cfg.Days = 10
	cfg.Seed = 42
	cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return cfg
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Generate(smallConfig())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed must give the same events")
	}

	other := smallConfig()
	other.Seed = 7
	c, _ := Generate(other)
	if reflect.DeepEqual(a, c) {
		t.Fatalf("different seeds should differ")
	}
}

func TestGenerate_Shape(t *testing.T) {
	cfg := smallConfig()
	events, err := Generate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	end := cfg.Start.AddDate(0, 0, cfg.Days+6+1)
	tiers := map[string]bool{}
	for _, e := range events {
		tiers[e.CityTier] = true
		if e.Stage != funnel.MonetaryStage && e.Amount != 0 {
			t.Fatalf("non-purchase with amount: %+v", e)
		}
		if e.Stage == funnel.MonetaryStage && (e.Amount < 200 || e.Amount > 2000) {
			t.Fatalf("amount out of range: %+v", e)
		}
		if e.Timestamp.Before(cfg.Start) || !e.Timestamp.Before(end) {
			t.Fatalf("timestamp out of range: %v", e.Timestamp)
		}
	}
	if len(tiers) != 3 {
		t.Fatalf("want all tiers present, got %v", tiers)
	}

	table := &funnel.Table{Events: events}
	r := funnel.Aggregate(table, funnel.FullRange(table))
	if r.Actors(funnel.StageVisit) != cfg.Users {
		t.Fatalf("every user visits, got %d", r.Actors(funnel.StageVisit))
	}
	if r.Actors(funnel.StageCheckout) != r.Actors(funnel.StageAddToCart) {
		t.Fatalf("checkout probability 1 should keep cart and checkout equal")
	}
	if r.Orders < r.Purchasers {
		t.Fatalf("orders %d < purchasers %d", r.Orders, r.Purchasers)
	}
}

func TestCSVWriter_RoundTripsThroughLoader(t *testing.T) {
	cfg := smallConfig()
	cfg.Users = 30
	var buf bytes.Buffer
	w := NewCSVWriter(&buf)
	if err := Emit(context.Background(), cfg, w); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	table, err := loader.ReadCSV(&buf, loader.Options{})
	if err != nil {
		t.Fatalf("generated csv should load: %v", err)
	}
	want, _ := Generate(cfg)
	if len(table.Events) != len(want) {
		t.Fatalf("loaded %d events, generated %d", len(table.Events), len(want))
	}
}

type recordingProducer struct {
	keys []string
	err  error
}

func (p *recordingProducer) ProduceEvent(_ context.Context, actorID string, event interface{}) error {
	if _, ok := event.(Message); !ok {
		return errors.New("unexpected payload type")
	}
	p.keys = append(p.keys, actorID)
	return p.err
}

func TestKafkaSink(t *testing.T) {
	cfg := smallConfig()
	cfg.Users = 3
	p := &recordingProducer{}
	if err := Emit(context.Background(), cfg, KafkaSink{Producer: p}); err != nil {
		t.Fatal(err)
	}
	if len(p.keys) == 0 || p.keys[0] != "1" {
		t.Fatalf("unexpected keys %v", p.keys)
	}

	p = &recordingProducer{err: errors.New("broker down")}
	if err := Emit(context.Background(), cfg, KafkaSink{Producer: p}); err == nil || len(p.keys) != 1 {
		t.Fatalf("emit should stop at the first producer error")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TierWeights = []float64{1}
	if _, err := Generate(cfg); err == nil {
		t.Fatalf("want weight mismatch error")
	}
	cfg = DefaultConfig()
	cfg.VisitsMin = 0
	if _, err := Generate(cfg); err == nil {
		t.Fatalf("want visit range error")
	}
}

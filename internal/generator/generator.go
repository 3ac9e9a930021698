package generator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/gosight/funnel/internal/funnel"
)

// Config controls the synthetic funnel dataset.
type Config struct {
	Users       int
	Days        int
	Tiers       []string
	TierWeights []float64
	Categories  []string
	Sellers     int

	VisitsMin, VisitsMax int

	CartProb     float64
	CheckoutProb float64
	PurchaseProb float64
	RepeatProb   float64

	AmountMin, AmountMax int

	Seed  int64
	Start time.Time
}

// DefaultConfig mirrors the shape of the reference dataset: Tier-2 heavy,
// a 60% cart rate and a 40% purchase rate among carts.
func DefaultConfig() Config {
	return Config{
		Users:        2000,
		Days:         60,
		Tiers:        []string{"Tier-1", "Tier-2", "Tier-3"},
		TierWeights:  []float64{0.3, 0.4, 0.3},
		Categories:   []string{"electronics", "fashion", "home", "grocery"},
		Sellers:      25,
		VisitsMin:    1,
		VisitsMax:    5,
		CartProb:     0.6,
		CheckoutProb: 1.0,
		PurchaseProb: 0.4,
		RepeatProb:   0.2,
		AmountMin:    200,
		AmountMax:    2000,
		Seed:         1,
	}
}

func (c Config) validate() error {
	switch {
	case c.Users < 0 || c.Days < 0:
		return errors.New("generator: users and days must be non-negative")
	case len(c.Tiers) == 0:
		return errors.New("generator: at least one tier is required")
	case len(c.TierWeights) != 0 && len(c.TierWeights) != len(c.Tiers):
		return errors.New("generator: tier weights must match tiers")
	case c.VisitsMin < 1 || c.VisitsMax < c.VisitsMin:
		return errors.New("generator: invalid visit range")
	case c.AmountMin < 0 || c.AmountMax < c.AmountMin:
		return errors.New("generator: invalid amount range")
	}
	return nil
}

// Generate builds the dataset. The same Config, including Seed and Start,
// always yields the same events.
func Generate(cfg Config) ([]funnel.Event, error) {
	var out []funnel.Event
	err := Emit(context.Background(), cfg, SinkFunc(func(_ context.Context, e funnel.Event) error {
		out = append(out, e)
		return nil
	}))
	return out, err
}

// Sink receives generated events in generation order.
type Sink interface {
	Write(ctx context.Context, e funnel.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e funnel.Event) error

func (f SinkFunc) Write(ctx context.Context, e funnel.Event) error { return f(ctx, e) }

// Emit streams the dataset into sink and stops at the first sink error.
func Emit(ctx context.Context, cfg Config, sink Sink) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	start := cfg.Start
	if start.IsZero() {
		start = funnel.DayOf(time.Now().UTC()).AddDate(0, 0, -cfg.Days)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	for u := 1; u <= cfg.Users; u++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		actor := strconv.Itoa(u)
		tier := pickWeighted(rng, cfg.Tiers, cfg.TierWeights)
		visits := cfg.VisitsMin + rng.Intn(cfg.VisitsMax-cfg.VisitsMin+1)

		for v := 0; v < visits; v++ {
			day := start.AddDate(0, 0, rng.Intn(cfg.Days+1))
			at := day.Add(time.Duration(rng.Intn(20*3600)) * time.Second)
			base := funnel.Event{ActorID: actor, CityTier: tier}
			if len(cfg.Categories) > 0 {
				base.Category = cfg.Categories[rng.Intn(len(cfg.Categories))]
			}
			if cfg.Sellers > 0 {
				base.SellerID = fmt.Sprintf("S%03d", 1+rng.Intn(cfg.Sellers))
			}

			steps := []funnel.Stage{funnel.StageVisit}
			if rng.Float64() < cfg.CartProb {
				steps = append(steps, funnel.StageAddToCart)
				if rng.Float64() < cfg.CheckoutProb {
					steps = append(steps, funnel.StageCheckout)
					if rng.Float64() < cfg.PurchaseProb {
						steps = append(steps, funnel.StagePurchase)
					}
				}
			}

			for i, s := range steps {
				e := base
				e.Stage = s
				e.Timestamp = at.Add(time.Duration(i) * time.Minute)
				if s == funnel.MonetaryStage {
					e.Amount = amount(rng, cfg)
				}
				if err := sink.Write(ctx, e); err != nil {
					return err
				}
			}

			if steps[len(steps)-1] == funnel.StagePurchase && rng.Float64() < cfg.RepeatProb {
				e := base
				e.Stage = funnel.StagePurchase
				e.Amount = amount(rng, cfg)
				e.Timestamp = at.AddDate(0, 0, 1+rng.Intn(5))
				if err := sink.Write(ctx, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func amount(rng *rand.Rand, cfg Config) float64 {
	return float64(cfg.AmountMin + rng.Intn(cfg.AmountMax-cfg.AmountMin+1))
}

func pickWeighted(rng *rand.Rand, items []string, weights []float64) string {
	if len(weights) == 0 {
		return items[rng.Intn(len(items))]
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return items[i]
		}
		r -= w
	}
	return items[len(items)-1]
}

// CSVHeader is the column order written by CSVWriter.
var CSVHeader = []string{"user_id", "city_tier", "category", "seller_id", "stage", "amount", "timestamp"}

// CSVWriter is a Sink that writes events in the loader's event shape.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

func (c *CSVWriter) Write(_ context.Context, e funnel.Event) error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	return c.w.Write([]string{
		e.ActorID,
		e.CityTier,
		e.Category,
		e.SellerID,
		e.Stage.String(),
		strconv.FormatFloat(e.Amount, 'f', -1, 64),
		e.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Flush writes buffered rows, and the header when no rows were written.
func (c *CSVWriter) Flush() error {
	if !c.wroteHeader {
		if err := c.w.Write(CSVHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}

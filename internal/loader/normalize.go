package loader

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/storage"
)

// RawEvent is an event as found in a source, before normalisation.
type RawEvent struct {
	ActorID   string
	CityTier  string
	Category  string
	SellerID  string
	Stage     string
	Amount    string
	Timestamp string
}

// Normalizer turns raw events into canonical funnel events.
type Normalizer struct {
	vocab *funnel.Vocabulary
}

// NewNormalizer uses vocab, or the default vocabulary when vocab is nil.
func NewNormalizer(vocab *funnel.Vocabulary) *Normalizer {
	if vocab == nil {
		vocab = funnel.DefaultVocabulary
	}
	return &Normalizer{vocab: vocab}
}

// Normalize parses raw. It returns an error matching errUnknownStage (see
// IsUnknownStage) for labels outside the vocabulary, and a *MalformedRowError
// with Line unset for unparsable fields.
func (n *Normalizer) Normalize(raw RawEvent) (funnel.Event, error) {
	actor := strings.TrimSpace(raw.ActorID)
	if actor == "" {
		return funnel.Event{}, &MalformedRowError{Column: "actor_id", Err: errors.New("empty actor id")}
	}
	stage, ok := n.vocab.Lookup(raw.Stage)
	if !ok {
		return funnel.Event{}, errUnknownStage
	}
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return funnel.Event{}, &MalformedRowError{Column: "timestamp", Value: raw.Timestamp, Err: err}
	}
	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return funnel.Event{}, &MalformedRowError{Column: "amount", Value: raw.Amount, Err: err}
	}
	return n.build(actor, raw.CityTier, raw.Category, raw.SellerID, stage, amount, ts), nil
}

// NormalizeRow is Normalize for typed rows read from a database.
func (n *Normalizer) NormalizeRow(row storage.EventRow) (funnel.Event, error) {
	actor := strings.TrimSpace(row.ActorID)
	if actor == "" {
		return funnel.Event{}, &MalformedRowError{Column: "actor_id", Err: errors.New("empty actor id")}
	}
	stage, ok := n.vocab.Lookup(row.Stage)
	if !ok {
		return funnel.Event{}, errUnknownStage
	}
	if row.Timestamp.IsZero() {
		return funnel.Event{}, &MalformedRowError{Column: "timestamp", Err: errors.New("missing timestamp")}
	}
	if !finite(row.Amount) {
		return funnel.Event{}, &MalformedRowError{Column: "amount", Err: errors.New("not a number")}
	}
	return n.build(actor, row.CityTier, row.Category, row.SellerID, stage, row.Amount, row.Timestamp.UTC()), nil
}

func (n *Normalizer) build(actor, tier, category, seller string, stage funnel.Stage, amount float64, ts time.Time) funnel.Event {
	if stage != funnel.MonetaryStage {
		amount = 0
	}
	return funnel.Event{
		ActorID:   actor,
		CityTier:  funnel.NormalizeTier(tier),
		Category:  strings.TrimSpace(category),
		SellerID:  strings.TrimSpace(seller),
		Stage:     stage,
		Amount:    amount,
		Timestamp: ts,
	}
}

// IsUnknownStage reports whether err came from an unrecognised stage label.
func IsUnknownStage(err error) bool {
	return errors.Is(err, errUnknownStage)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
	"20060102",
}

// ParseTimestamp accepts the layouts seen in exported event logs plus unix
// seconds (10 digits) or milliseconds (13 digits). Zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		switch len(s) {
		case 10:
			return time.Unix(n, 0).UTC(), nil
		case 13:
			return time.UnixMilli(n).UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognised timestamp format")
}

var amountReplacer = strings.NewReplacer(",", "", "₹", "", "$", "", "€", "", "£", "", " ", "")

// ParseAmount parses a monetary value; blank is zero.
func ParseAmount(s string) (float64, error) {
	s = amountReplacer.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(v) {
		return 0, errors.New("not a number")
	}
	return v, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// parseCount parses a non-negative whole count; blank is zero.
func parseCount(s string) (int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errors.New("negative count")
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != float64(int(f)) {
		return 0, errors.New("not a whole count")
	}
	return int(f), nil
}

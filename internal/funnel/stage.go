package funnel

import (
	"strings"
)

// Stage is a step of the purchase funnel. The numeric order is the funnel order.
type Stage int

const (
	StageVisit Stage = iota
	StageAddToCart
	StageCheckout
	StagePurchase

	NumStages = 4
)

// MonetaryStage is the only stage whose amount is summed into revenue.
const MonetaryStage = StagePurchase

// Stages lists the canonical vocabulary in funnel order.
var Stages = [NumStages]Stage{StageVisit, StageAddToCart, StageCheckout, StagePurchase}

var stageNames = [NumStages]string{"visit", "add_to_cart", "checkout", "purchase"}

func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return "unknown"
	}
	return stageNames[s]
}

// Valid reports whether s belongs to the canonical vocabulary.
func (s Stage) Valid() bool {
	return s >= 0 && int(s) < NumStages
}

// MarshalText encodes the stage by canonical name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var defaultAliases = map[string]Stage{
	"visit":            StageVisit,
	"view":             StageVisit,
	"visited":          StageVisit,
	"page_view":        StageVisit,
	"session_start":    StageVisit,
	"add_to_cart":      StageAddToCart,
	"cart":             StageAddToCart,
	"added_to_cart":    StageAddToCart,
	"add":              StageAddToCart,
	"atc":              StageAddToCart,
	"checkout":         StageCheckout,
	"checkout_start":   StageCheckout,
	"checkout_started": StageCheckout,
	"begin_checkout":   StageCheckout,
	"purchase":         StagePurchase,
	"purchased":        StagePurchase,
	"order":            StagePurchase,
	"ordered":          StagePurchase,
	"buy":              StagePurchase,
}

// Vocabulary maps raw stage labels onto canonical stages.
type Vocabulary struct {
	aliases map[string]Stage
}

// NewVocabulary returns the built-in aliases extended with extra.
// extra maps a canonical stage name to additional raw labels; unknown
// canonical names are ignored.
func NewVocabulary(extra map[string][]string) *Vocabulary {
	v := &Vocabulary{aliases: make(map[string]Stage, len(defaultAliases))}
	for k, s := range defaultAliases {
		v.aliases[k] = s
	}
	for canonical, labels := range extra {
		s, ok := v.aliases[foldLabel(canonical)]
		if !ok {
			continue
		}
		for _, l := range labels {
			v.aliases[foldLabel(l)] = s
		}
	}
	return v
}

// DefaultVocabulary has only the built-in aliases.
var DefaultVocabulary = NewVocabulary(nil)

// Lookup resolves a raw label. ok is false for unrecognised labels.
func (v *Vocabulary) Lookup(raw string) (Stage, bool) {
	s, ok := v.aliases[foldLabel(raw)]
	return s, ok
}

// ParseStage resolves raw against the default vocabulary.
func ParseStage(raw string) (Stage, bool) {
	return DefaultVocabulary.Lookup(raw)
}

func foldLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}

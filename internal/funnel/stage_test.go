package funnel

import "testing"

func TestParseStage_Aliases(t *testing.T) {
	cases := map[string]Stage{
		"view":           StageVisit,
		"Visited":        StageVisit,
		"add_to_cart":    StageAddToCart,
		"Added To Cart":  StageAddToCart,
		"cart":           StageAddToCart,
		"checkout_start": StageCheckout,
		"checkout-start": StageCheckout,
		"purchased":      StagePurchase,
		" purchase ":     StagePurchase,
	}
	for raw, want := range cases {
		got, ok := ParseStage(raw)
		if !ok || got != want {
			t.Fatalf("%q: want %s got %s (ok=%v)", raw, want, got, ok)
		}
	}
	if _, ok := ParseStage("wishlist"); ok {
		t.Fatalf("unknown stage must not resolve")
	}
}

func TestNewVocabulary_Extra(t *testing.T) {
	v := NewVocabulary(map[string][]string{
		"purchase": {"paid"},
		"nonsense": {"x"},
	})
	if s, ok := v.Lookup("PAID"); !ok || s != StagePurchase {
		t.Fatalf("extra alias not applied")
	}
	if _, ok := v.Lookup("x"); ok {
		t.Fatalf("alias of unknown canonical stage must be ignored")
	}
	if _, ok := DefaultVocabulary.Lookup("paid"); ok {
		t.Fatalf("default vocabulary must not be mutated")
	}
}

func TestNormalizeTier(t *testing.T) {
	cases := map[string]string{
		"1":      "Tier-1",
		" 2 ":    "Tier-2",
		"Tier-3": "Tier-3",
		"tier 2": "Tier-2",
		"TIER_1": "Tier-1",
		"":       UnknownKey,
		"Metro":  "Metro",
	}
	for raw, want := range cases {
		if got := NormalizeTier(raw); got != want {
			t.Fatalf("%q: want %q got %q", raw, want, got)
		}
	}
}

func TestStageString(t *testing.T) {
	if StageCheckout.String() != "checkout" || Stage(42).String() != "unknown" {
		t.Fatalf("unexpected names")
	}
}

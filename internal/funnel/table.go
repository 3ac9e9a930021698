package funnel

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// UnknownKey is the group key used when a row lacks the grouped attribute.
const UnknownKey = "Unknown"

// Event is one stage touch by one actor.
type Event struct {
	ActorID   string
	CityTier  string
	Category  string
	SellerID  string
	Stage     Stage
	Amount    float64
	Timestamp time.Time
}

// Rollup is a pre-aggregated row: per-stage counts already computed by the
// data source for one day and tier. Revenue belongs to the purchase stage.
type Rollup struct {
	Day      time.Time
	CityTier string
	Counts   StageCounts
	Revenue  float64
}

// StageCounts holds one count per canonical stage. Every stage is always
// present; stages missing from the source are zero.
type StageCounts [NumStages]int

// Get returns the count for s.
func (c StageCounts) Get(s Stage) int {
	if !s.Valid() {
		return 0
	}
	return c[s]
}

// Table is the canonical, schema-complete event log. It is immutable once
// returned by a loader.
type Table struct {
	Events  []Event
	Rollups []Rollup

	// Dropped counts rows whose stage label was not in the vocabulary, by raw label.
	Dropped map[string]int
	// Skipped counts malformed rows skipped by a lenient load.
	Skipped int
}

// Len is the number of canonical rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Events) + len(t.Rollups)
}

// Span returns the earliest and latest timestamp in the table. Both are zero
// for an empty table.
func (t *Table) Span() (start, end time.Time) {
	if t == nil {
		return
	}
	first := true
	see := func(ts time.Time) {
		if first {
			start, end = ts, ts
			first = false
			return
		}
		if ts.Before(start) {
			start = ts
		}
		if ts.After(end) {
			end = ts
		}
	}
	for i := range t.Events {
		see(t.Events[i].Timestamp)
	}
	for i := range t.Rollups {
		see(t.Rollups[i].Day)
	}
	return start, end
}

// Tiers returns the distinct city tiers, sorted.
func (t *Table) Tiers() []string {
	return t.distinct(func(e *Event) string { return e.CityTier }, func(r *Rollup) string { return r.CityTier })
}

// Categories returns the distinct categories, sorted.
func (t *Table) Categories() []string {
	return t.distinct(func(e *Event) string { return keyOrUnknown(e.Category) }, func(*Rollup) string { return UnknownKey })
}

// Sellers returns the distinct seller ids, sorted.
func (t *Table) Sellers() []string {
	return t.distinct(func(e *Event) string { return keyOrUnknown(e.SellerID) }, func(*Rollup) string { return UnknownKey })
}

func (t *Table) distinct(ev func(*Event) string, ru func(*Rollup) string) []string {
	if t == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for i := range t.Events {
		seen[ev(&t.Events[i])] = struct{}{}
	}
	for i := range t.Rollups {
		seen[ru(&t.Rollups[i])] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeTier maps the tier spellings found in the wild onto "Tier-N".
// A bare integer becomes "Tier-<n>", "tier 2"/"tier_2" become "Tier-2",
// blank becomes UnknownKey, and anything else is kept trimmed.
func NormalizeTier(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return UnknownKey
	}
	if n, err := strconv.Atoi(s); err == nil {
		return "Tier-" + strconv.Itoa(n)
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "tier") {
		rest := strings.TrimLeft(lower[len("tier"):], " -_")
		if n, err := strconv.Atoi(rest); err == nil {
			return "Tier-" + strconv.Itoa(n)
		}
	}
	return s
}

// DayOf truncates ts to its UTC calendar day.
func DayOf(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func keyOrUnknown(s string) string {
	if s == "" {
		return UnknownKey
	}
	return s
}

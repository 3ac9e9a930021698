package funnel

import (
	"sort"
	"time"
)

// Filter is the user selection applied before aggregation. Start and End are
// inclusive. An empty Tiers selects no rows; use AllTiers to select every tier.
type Filter struct {
	Start time.Time
	End   time.Time
	Tiers []string
}

// FullRange returns a filter covering the whole table and every tier in it.
func FullRange(t *Table) Filter {
	start, end := t.Span()
	return Filter{Start: start, End: end, Tiers: t.Tiers()}
}

// AllTiers returns a copy of f selecting every tier present in t.
func (f Filter) AllTiers(t *Table) Filter {
	f.Tiers = t.Tiers()
	return f
}

// StageMetric is the per-stage line of a funnel.
type StageMetric struct {
	Stage  Stage `json:"stage"`
	Actors int   `json:"actors"`
	// Conversion is Actors relative to the first stage. Not clamped: a stage
	// can exceed the first one when actors skip stages.
	Conversion float64 `json:"conversion"`
	// StepConversion is Actors relative to the previous stage; 1 for the first stage
	// when it has actors.
	StepConversion float64 `json:"step_conversion"`
}

// Result is the aggregated funnel for one selection.
type Result struct {
	Stages         []StageMetric `json:"stages"`
	Revenue        float64       `json:"revenue"`
	Orders         int           `json:"orders"`
	Purchasers     int           `json:"purchasers"`
	AvgOrderValue  float64       `json:"avg_order_value"`
	MeanOrderValue float64       `json:"mean_order_value"`
	Rows           int           `json:"rows"`
}

// Actors returns the distinct actor count for s.
func (r Result) Actors(s Stage) int {
	for _, m := range r.Stages {
		if m.Stage == s {
			return m.Actors
		}
	}
	return 0
}

// ConversionOf returns the conversion rate of s relative to the first stage.
func (r Result) ConversionOf(s Stage) float64 {
	for _, m := range r.Stages {
		if m.Stage == s {
			return m.Conversion
		}
	}
	return 0
}

// Empty reports whether no rows contributed to r.
func (r Result) Empty() bool { return r.Rows == 0 }

// SafeRatio divides num by den, yielding 0 when den is 0.
func SafeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Aggregate filters t by f and computes the funnel over the remaining rows.
// An empty selection yields a zero result with every stage listed.
func Aggregate(t *Table, f Filter) Result {
	events, rollups := Select(t, f)
	return aggregateRows(events, rollups)
}

// Select returns the rows of t matching f. Rollup rows match when their day
// overlaps the range.
func Select(t *Table, f Filter) ([]Event, []Rollup) {
	if t == nil || len(f.Tiers) == 0 {
		return nil, nil
	}
	tiers := make(map[string]struct{}, len(f.Tiers))
	for _, tier := range f.Tiers {
		tiers[NormalizeTier(tier)] = struct{}{}
	}
	var events []Event
	for _, e := range t.Events {
		if _, ok := tiers[e.CityTier]; !ok {
			continue
		}
		if e.Timestamp.Before(f.Start) || e.Timestamp.After(f.End) {
			continue
		}
		events = append(events, e)
	}
	var rollups []Rollup
	for _, r := range t.Rollups {
		if _, ok := tiers[r.CityTier]; !ok {
			continue
		}
		if !r.Day.Add(24*time.Hour).After(f.Start) || r.Day.After(f.End) {
			continue
		}
		rollups = append(rollups, r)
	}
	return events, rollups
}

func aggregateRows(events []Event, rollups []Rollup) Result {
	var (
		actors  [NumStages]map[string]struct{}
		counts  StageCounts
		revenue float64
		orders  int
	)
	for i := range actors {
		actors[i] = make(map[string]struct{})
	}
	for _, e := range events {
		if !e.Stage.Valid() {
			continue
		}
		actors[e.Stage][e.ActorID] = struct{}{}
		if e.Stage == MonetaryStage {
			revenue += e.Amount
			orders++
		}
	}
	for s := range actors {
		counts[s] = len(actors[s])
	}
	// Rollup counts are already per-day unique actors; summing across days
	// is the best the source shape allows.
	for _, r := range rollups {
		for s := range counts {
			counts[s] += r.Counts[s]
		}
		revenue += r.Revenue
		orders += r.Counts[MonetaryStage]
	}
	return buildResult(counts, revenue, orders, len(events)+len(rollups))
}

func buildResult(counts StageCounts, revenue float64, orders, rows int) Result {
	res := Result{
		Stages:  make([]StageMetric, 0, NumStages),
		Revenue: revenue,
		Orders:  orders,
		Rows:    rows,
	}
	first := float64(counts[Stages[0]])
	for i, s := range Stages {
		m := StageMetric{
			Stage:      s,
			Actors:     counts[s],
			Conversion: SafeRatio(float64(counts[s]), first),
		}
		if i == 0 {
			m.StepConversion = SafeRatio(float64(counts[s]), first)
		} else {
			m.StepConversion = SafeRatio(float64(counts[s]), float64(counts[Stages[i-1]]))
		}
		res.Stages = append(res.Stages, m)
	}
	res.Purchasers = counts[MonetaryStage]
	res.AvgOrderValue = SafeRatio(revenue, float64(res.Purchasers))
	res.MeanOrderValue = SafeRatio(revenue, float64(orders))
	return res
}

// Dimension is a key rows can be partitioned by.
type Dimension int

const (
	DimCityTier Dimension = iota
	DimCategory
	DimSeller
	DimDay
)

var dimensionNames = map[Dimension]string{
	DimCityTier: "city_tier",
	DimCategory: "category",
	DimSeller:   "seller",
	DimDay:      "day",
}

func (d Dimension) String() string {
	if n, ok := dimensionNames[d]; ok {
		return n
	}
	return "unknown"
}

// ParseDimension resolves a dimension by name.
func ParseDimension(name string) (Dimension, bool) {
	switch name {
	case "city_tier", "tier":
		return DimCityTier, true
	case "category":
		return DimCategory, true
	case "seller", "seller_id":
		return DimSeller, true
	case "day", "date":
		return DimDay, true
	}
	return 0, false
}

const dayLayout = "2006-01-02"

func (d Dimension) eventKey(e *Event) string {
	switch d {
	case DimCityTier:
		return e.CityTier
	case DimCategory:
		return keyOrUnknown(e.Category)
	case DimSeller:
		return keyOrUnknown(e.SellerID)
	case DimDay:
		return DayOf(e.Timestamp).Format(dayLayout)
	}
	return UnknownKey
}

func (d Dimension) rollupKey(r *Rollup) string {
	switch d {
	case DimCityTier:
		return r.CityTier
	case DimDay:
		return DayOf(r.Day).Format(dayLayout)
	}
	return UnknownKey
}

// Group is the funnel of one partition.
type Group struct {
	Key    string `json:"key"`
	Result Result `json:"result"`
}

// AggregateBy filters t by f, partitions the selection by d and aggregates
// each partition. Groups are ordered by key.
func AggregateBy(t *Table, f Filter, d Dimension) []Group {
	events, rollups := Select(t, f)

	evParts := make(map[string][]Event)
	ruParts := make(map[string][]Rollup)
	for i := range events {
		k := d.eventKey(&events[i])
		evParts[k] = append(evParts[k], events[i])
	}
	for i := range rollups {
		k := d.rollupKey(&rollups[i])
		ruParts[k] = append(ruParts[k], rollups[i])
	}

	keys := make([]string, 0, len(evParts)+len(ruParts))
	for k := range evParts {
		keys = append(keys, k)
	}
	for k := range ruParts {
		if _, ok := evParts[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, Group{Key: k, Result: aggregateRows(evParts[k], ruParts[k])})
	}
	return groups
}

// TrendPoint is the funnel of a single day.
type TrendPoint struct {
	Day    time.Time `json:"day"`
	Result Result    `json:"result"`
}

// Trend aggregates the selection per UTC day, oldest first.
func Trend(t *Table, f Filter) []TrendPoint {
	groups := AggregateBy(t, f, DimDay)
	points := make([]TrendPoint, 0, len(groups))
	for _, g := range groups {
		day, err := time.Parse(dayLayout, g.Key)
		if err != nil {
			continue
		}
		points = append(points, TrendPoint{Day: day, Result: g.Result})
	}
	return points
}

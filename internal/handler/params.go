package handler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gosight/funnel/internal/funnel"
)

const dateLayout = "2006-01-02"

type paramError struct {
	name  string
	value string
	err   error
}

func (e *paramError) Error() string {
	return fmt.Sprintf("%s=%q: %v", e.name, e.value, e.err)
}

func (e *paramError) Unwrap() error { return e.err }

func badParam(name, value string, err error) error {
	return &paramError{name: name, value: value, err: err}
}

// ParseFilter builds a filter from query params, defaulting to the table's
// span. An absent tiers param selects every tier; a present but empty one
// selects none.
func ParseFilter(q url.Values, t *funnel.Table) (funnel.Filter, error) {
	f := funnel.FullRange(t)

	if v := q.Get("start"); v != "" {
		ts, _, err := parseBound(v)
		if err != nil {
			return f, badParam("start", v, err)
		}
		f.Start = ts
	}
	if v := q.Get("end"); v != "" {
		ts, dateOnly, err := parseBound(v)
		if err != nil {
			return f, badParam("end", v, err)
		}
		if dateOnly {
			ts = ts.Add(24*time.Hour - time.Nanosecond)
		}
		f.End = ts
	}
	if q.Get("start") != "" && q.Get("end") != "" && f.End.Before(f.Start) {
		return f, badParam("end", q.Get("end"), errors.New("end is before start"))
	}

	if raw, ok := q["tiers"]; ok {
		f.Tiers = []string{}
		for _, v := range raw {
			for _, tier := range strings.Split(v, ",") {
				if tier = strings.TrimSpace(tier); tier != "" {
					f.Tiers = append(f.Tiers, funnel.NormalizeTier(tier))
				}
			}
		}
	}
	return f, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if ts, err := time.Parse(dateLayout, v); err == nil {
		return ts, true, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, errors.New("want YYYY-MM-DD or RFC3339")
	}
	return ts.UTC(), false, nil
}

func filterResponse(f funnel.Filter) FilterResponse {
	tiers := f.Tiers
	if tiers == nil {
		tiers = []string{}
	}
	return FilterResponse{Start: f.Start, End: f.End, Tiers: tiers}
}

package loader

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/funnel"
)

// Options controls how a source is normalised.
type Options struct {
	// Lenient skips malformed rows instead of failing the whole load.
	Lenient bool
	// Vocab resolves stage labels; nil means the default vocabulary.
	Vocab *funnel.Vocabulary
}

var columnAliases = map[string][]string{
	"actor":     {"actor_id", "user_id", "session_id", "customer_id"},
	"tier":      {"city_tier", "tier"},
	"category":  {"category"},
	"seller":    {"seller_id", "seller"},
	"stage":     {"stage", "event", "event_type"},
	"amount":    {"amount", "order_value", "revenue", "value"},
	"timestamp": {"timestamp", "date", "ts", "time", "event_time"},
	"visitors":  {"visitors", "visits"},
	"carts":     {"carts", "add_to_carts"},
	"checkouts": {"checkouts"},
	"orders":    {"orders", "purchases"},
	"revenue":   {"revenue"},
}

type header struct {
	index map[string]int
}

func parseHeader(record []string) header {
	pos := make(map[string]int, len(record))
	for i, col := range record {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}
	h := header{index: make(map[string]int)}
	for field, aliases := range columnAliases {
		for _, a := range aliases {
			if i, ok := pos[a]; ok {
				h.index[field] = i
				break
			}
		}
	}
	return h
}

func (h header) has(field string) bool {
	_, ok := h.index[field]
	return ok
}

func (h header) get(row []string, field string) string {
	i, ok := h.index[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// rollupShape reports whether the header describes pre-aggregated daily metrics.
func (h header) rollupShape() bool {
	return !h.has("stage") && h.has("visitors") && (h.has("orders") || h.has("revenue"))
}

// ReadCSV reads a delimited event log with a header row and normalises it
// into a canonical table. Both the raw event shape and the pre-aggregated
// daily shape are accepted.
func ReadCSV(r io.Reader, opts Options) (*funnel.Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	first, err := cr.Read()
	if err == io.EOF {
		return nil, &MalformedRowError{Line: 1, Column: "header", Err: errors.New("empty file")}
	}
	if err != nil {
		return nil, &MalformedRowError{Line: 1, Column: "header", Err: err}
	}
	h := parseHeader(first)

	rd := &csvReader{cr: cr, h: h, opts: opts, table: &funnel.Table{Dropped: map[string]int{}}}
	if h.rollupShape() {
		if !h.has("timestamp") {
			return nil, &MalformedRowError{Line: 1, Column: "date", Err: errors.New("missing required column")}
		}
		err = rd.readRollups()
	} else {
		for _, field := range []string{"actor", "stage", "timestamp"} {
			if !h.has(field) {
				return nil, &MalformedRowError{Line: 1, Column: columnAliases[field][0], Err: errors.New("missing required column")}
			}
		}
		err = rd.readEvents(NewNormalizer(opts.Vocab))
	}
	if err != nil {
		return nil, err
	}
	logDropped(rd.table.Dropped)
	return rd.table, nil
}

type csvReader struct {
	cr    *csv.Reader
	h     header
	opts  Options
	table *funnel.Table
}

// next returns the next record and its line. A csv syntax error is returned
// as a *MalformedRowError.
func (rd *csvReader) next() ([]string, int, error) {
	row, err := rd.cr.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, perr.Line, &MalformedRowError{Line: perr.Line, Column: "record", Err: perr.Err}
		}
		return nil, 0, err
	}
	line, _ := rd.cr.FieldPos(0)
	return row, line, nil
}

// reject applies the malformed row policy. It returns nil when the row was skipped.
func (rd *csvReader) reject(err *MalformedRowError) error {
	if !rd.opts.Lenient {
		return err
	}
	rd.table.Skipped++
	log.Warn().Err(err).Int("line", err.Line).Msg("Skipping malformed row")
	return nil
}

func (rd *csvReader) readEvents(n *Normalizer) error {
	for {
		row, line, err := rd.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var mre *MalformedRowError
			if errors.As(err, &mre) {
				if err := rd.reject(mre); err != nil {
					return err
				}
				continue
			}
			return unavailable("read csv", err)
		}
		if blank(row) {
			continue
		}

		raw := RawEvent{
			ActorID:   rd.h.get(row, "actor"),
			CityTier:  rd.h.get(row, "tier"),
			Category:  rd.h.get(row, "category"),
			SellerID:  rd.h.get(row, "seller"),
			Stage:     rd.h.get(row, "stage"),
			Amount:    rd.h.get(row, "amount"),
			Timestamp: rd.h.get(row, "timestamp"),
		}
		ev, err := n.Normalize(raw)
		if IsUnknownStage(err) {
			rd.table.Dropped[raw.Stage]++
			continue
		}
		if err != nil {
			var mre *MalformedRowError
			if !errors.As(err, &mre) {
				return err
			}
			mre.Line = line
			if err := rd.reject(mre); err != nil {
				return err
			}
			continue
		}
		rd.table.Events = append(rd.table.Events, ev)
	}
}

func (rd *csvReader) readRollups() error {
	counts := []struct {
		field string
		stage funnel.Stage
	}{
		{"visitors", funnel.StageVisit},
		{"carts", funnel.StageAddToCart},
		{"checkouts", funnel.StageCheckout},
		{"orders", funnel.StagePurchase},
	}
	for {
		row, line, err := rd.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var mre *MalformedRowError
			if errors.As(err, &mre) {
				if err := rd.reject(mre); err != nil {
					return err
				}
				continue
			}
			return unavailable("read csv", err)
		}
		if blank(row) {
			continue
		}

		raw := rd.h.get(row, "timestamp")
		ts, err := ParseTimestamp(raw)
		if err != nil {
			if err := rd.reject(&MalformedRowError{Line: line, Column: "date", Value: raw, Err: err}); err != nil {
				return err
			}
			continue
		}
		r := funnel.Rollup{Day: funnel.DayOf(ts), CityTier: funnel.NormalizeTier(rd.h.get(row, "tier"))}

		var bad *MalformedRowError
		for _, c := range counts {
			v := rd.h.get(row, c.field)
			n, err := parseCount(v)
			if err != nil {
				bad = &MalformedRowError{Line: line, Column: c.field, Value: v, Err: err}
				break
			}
			r.Counts[c.stage] = n
		}
		if bad == nil {
			v := rd.h.get(row, "revenue")
			if r.Revenue, err = ParseAmount(v); err != nil {
				bad = &MalformedRowError{Line: line, Column: "revenue", Value: v, Err: err}
			}
		}
		if bad != nil {
			if err := rd.reject(bad); err != nil {
				return err
			}
			continue
		}
		rd.table.Rollups = append(rd.table.Rollups, r)
	}
}

// logDropped warns once per dropped stage label.
func logDropped(dropped map[string]int) {
	for label, n := range dropped {
		log.Warn().Str("stage", label).Int("rows", n).Msg("Dropped rows with unknown stage")
	}
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

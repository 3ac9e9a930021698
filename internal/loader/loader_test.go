package loader

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/storage"
)

func TestLoadFile_RawEvents(t *testing.T) {
	tbl, err := LoadFile(filepath.Join("..", "..", "testdata", "events.csv"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Events) != 6 {
		t.Fatalf("want 6 events, got %d", len(tbl.Events))
	}
	if tiers := tbl.Tiers(); strings.Join(tiers, ",") != "Tier-1,Tier-2,Tier-3" {
		t.Fatalf("tiers not normalised: %v", tiers)
	}

	res := funnel.Aggregate(tbl, funnel.FullRange(tbl))
	if res.Actors(funnel.StageVisit) != 3 || res.Actors(funnel.StageAddToCart) != 2 || res.Purchasers != 1 {
		t.Fatalf("unexpected counts: %+v", res.Stages)
	}
	if res.Revenue != 500 || res.AvgOrderValue != 500 {
		t.Fatalf("revenue=%v aov=%v", res.Revenue, res.AvgOrderValue)
	}
	if math.Abs(res.ConversionOf(funnel.StagePurchase)-1.0/3.0) > 1e-12 {
		t.Fatalf("conversion %v", res.ConversionOf(funnel.StagePurchase))
	}
}

func TestLoadFile_Rollups(t *testing.T) {
	tbl, err := LoadFile(filepath.Join("..", "..", "testdata", "daily_metrics.csv"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Rollups) != 3 || len(tbl.Events) != 0 {
		t.Fatalf("want 3 rollups, got %d (+%d events)", len(tbl.Rollups), len(tbl.Events))
	}
	res := funnel.Aggregate(tbl, funnel.FullRange(tbl))
	if res.Actors(funnel.StageVisit) != 300 || res.Purchasers != 26 || res.Revenue != 2600 {
		t.Fatalf("unexpected rollup aggregate %+v", res)
	}
	if res.Actors(funnel.StageAddToCart) != 0 || res.Actors(funnel.StageCheckout) != 0 {
		t.Fatalf("absent stages must be zero-filled")
	}
}

func TestReadCSV_MissingStageZeroFilled(t *testing.T) {
	in := "session_id,event,order_value,timestamp,city_tier\n" +
		"s1,view,,2024-01-01T10:00:00Z,1\n" +
		"s1,purchase,250,2024-01-01T10:30:00Z,1\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := funnel.Aggregate(tbl, funnel.FullRange(tbl))
	if res.Actors(funnel.StageCheckout) != 0 || res.Actors(funnel.StageAddToCart) != 0 {
		t.Fatalf("missing stages should aggregate to 0")
	}
	if len(res.Stages) != funnel.NumStages {
		t.Fatalf("want every stage present")
	}
	if res.Revenue != 250 {
		t.Fatalf("revenue %v", res.Revenue)
	}
}

func TestReadCSV_UnknownStageDropped(t *testing.T) {
	in := "user_id,stage,timestamp\n" +
		"u1,visit,2024-01-01\n" +
		"u1,wishlist,2024-01-01\n" +
		"u2,wishlist,2024-01-02\n" +
		"u2,refund,2024-01-02\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Events) != 1 {
		t.Fatalf("want 1 event kept, got %d", len(tbl.Events))
	}
	if tbl.Dropped["wishlist"] != 2 || tbl.Dropped["refund"] != 1 {
		t.Fatalf("drop counts: %v", tbl.Dropped)
	}
}

func TestReadCSV_ExtraAliases(t *testing.T) {
	in := "user_id,stage,amount,timestamp\nu1,paid,10,2024-01-01\n"
	vocab := funnel.NewVocabulary(map[string][]string{"purchase": {"paid"}})
	tbl, err := ReadCSV(strings.NewReader(in), Options{Vocab: vocab})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Events) != 1 || tbl.Events[0].Stage != funnel.StagePurchase {
		t.Fatalf("alias not applied: %+v", tbl.Events)
	}
}

func TestReadCSV_NonPurchaseAmountZeroed(t *testing.T) {
	in := "user_id,stage,amount,timestamp\nu1,add_to_cart,120,2024-01-01\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Events[0].Amount != 0 {
		t.Fatalf("cart amount must be zeroed, got %v", tbl.Events[0].Amount)
	}
}

func TestReadCSV_StrictRejectsBadTimestamp(t *testing.T) {
	in := "user_id,stage,timestamp\n" +
		"u1,visit,2024-01-01\n" +
		"u2,visit,yesterday\n"
	_, err := ReadCSV(strings.NewReader(in), Options{})
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("want ErrMalformedRow, got %v", err)
	}
	var mre *MalformedRowError
	if !errors.As(err, &mre) {
		t.Fatalf("want *MalformedRowError, got %T", err)
	}
	if mre.Line != 3 || mre.Column != "timestamp" || mre.Value != "yesterday" {
		t.Fatalf("unexpected location %+v", mre)
	}
}

func TestReadCSV_LenientSkips(t *testing.T) {
	in := "user_id,stage,amount,timestamp\n" +
		"u1,visit,,2024-01-01\n" +
		"u2,visit,,not-a-date\n" +
		"u3,purchase,abc,2024-01-01\n" +
		",visit,,2024-01-01\n" +
		"u4,purchase,99.5,2024-01-02\n"
	tbl, err := ReadCSV(strings.NewReader(in), Options{Lenient: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Events) != 2 || tbl.Skipped != 3 {
		t.Fatalf("want 2 kept / 3 skipped, got %d / %d", len(tbl.Events), tbl.Skipped)
	}
}

func TestReadCSV_MissingRequiredColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("user_id,amount\nu1,10\n"), Options{})
	var mre *MalformedRowError
	if !errors.As(err, &mre) || mre.Line != 1 || mre.Column != "stage" {
		t.Fatalf("want header error on stage, got %v", err)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := ReadCSV(strings.NewReader(""), Options{}); !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("want ErrMalformedRow for empty input, got %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("want ErrDataUnavailable, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cause should be preserved, got %v", err)
	}
}

func TestFileSource_Signature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	if err := os.WriteFile(path, []byte("user_id,stage,timestamp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := FileSource{Path: path}
	s1, err := src.Signature(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("user_id,stage,timestamp\nu1,visit,2024-01-01\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s2, err := src.Signature(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s1 == s2 {
		t.Fatalf("signature should change with content")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-03-01T09:30:00Z",
		"2024-03-01T11:30:00+02:00",
		"2024-03-01 09:30:00",
		"2024-03-01T09:30:00",
		"1709285400",
		"1709285400000",
	} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: want %v got %v", in, want, got)
		}
	}
	if got, err := ParseTimestamp("20240315"); err != nil || !got.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("compact date: got %v (%v)", got, err)
	}
	for _, in := range []string{"soon", "123456", "202403151", "-1709285400"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{"": 0, "1,250.50": 1250.5, "₹200": 200, "$ 15": 15}
	for in, want := range cases {
		got, err := ParseAmount(in)
		if err != nil || got != want {
			t.Fatalf("%q: want %v got %v (%v)", in, want, got, err)
		}
	}
	for _, in := range []string{"NaN", "Inf", "-Inf", "+inf", "abc"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestReadCSV_StrictRejectsNonFiniteAmount(t *testing.T) {
	in := "user_id,city_tier,stage,amount,date\n" +
		"A,1,visit,,2024-03-01\n" +
		"A,1,purchase,NaN,2024-03-01\n"
	_, err := ReadCSV(strings.NewReader(in), Options{})
	var mre *MalformedRowError
	if !errors.As(err, &mre) || mre.Line != 3 || mre.Column != "amount" {
		t.Fatalf("want amount error on line 3, got %v", err)
	}

	rollups := "date,visitors,orders,revenue\n2024-03-01,10,2,Inf\n"
	_, err = ReadCSV(strings.NewReader(rollups), Options{})
	if !errors.As(err, &mre) || mre.Column != "revenue" {
		t.Fatalf("want revenue error, got %v", err)
	}
}

type fakeDB struct {
	rows []storage.EventRow
	sig  string
	err  error
}

func (f *fakeDB) QueryEvents(context.Context, string) ([]storage.EventRow, error) {
	return f.rows, f.err
}

func (f *fakeDB) TableSignature(context.Context, string) (string, error) {
	return f.sig, f.err
}

func TestDBSource_Load(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{sig: "3-1", rows: []storage.EventRow{
		{ActorID: "a", CityTier: "1", Stage: "view", Timestamp: at},
		{ActorID: "a", CityTier: "1", Stage: "purchase", Amount: 40, Timestamp: at},
		{ActorID: "b", CityTier: "2", Stage: "teleport", Timestamp: at},
	}}
	src := DBSource{Name: "clickhouse", DB: db, Table: "funnel_events"}
	if src.Key() != "clickhouse:funnel_events" {
		t.Fatalf("key %q", src.Key())
	}
	tbl, err := src.Load(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tbl.Events) != 2 || tbl.Dropped["teleport"] != 1 {
		t.Fatalf("events=%d dropped=%v", len(tbl.Events), tbl.Dropped)
	}
	if tbl.Events[0].CityTier != "Tier-1" {
		t.Fatalf("tier %q", tbl.Events[0].CityTier)
	}
}

func TestDBSource_MalformedStrict(t *testing.T) {
	db := &fakeDB{rows: []storage.EventRow{{ActorID: "", Stage: "visit", Timestamp: time.Now()}}}
	_, err := DBSource{Name: "postgres", DB: db, Table: "t"}.Load(context.Background(), Options{})
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("want ErrMalformedRow, got %v", err)
	}

	db.rows = []storage.EventRow{{ActorID: "a", Stage: "purchase", Amount: math.NaN(), Timestamp: time.Now()}}
	_, err = DBSource{Name: "postgres", DB: db, Table: "t"}.Load(context.Background(), Options{})
	var mre *MalformedRowError
	if !errors.As(err, &mre) || mre.Column != "amount" {
		t.Fatalf("want amount error for NaN, got %v", err)
	}
}

func TestDBSource_Unavailable(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	src := DBSource{Name: "postgres", DB: db, Table: "t"}
	if _, err := src.Load(context.Background(), Options{}); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("load: want ErrDataUnavailable, got %v", err)
	}
	if _, err := src.Signature(context.Background()); !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("signature: want ErrDataUnavailable, got %v", err)
	}
}

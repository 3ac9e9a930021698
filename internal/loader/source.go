package loader

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/storage"
)

// Source is a place an event table can be loaded from.
type Source interface {
	// Key identifies the source for caching.
	Key() string
	// Signature changes whenever the underlying data changes.
	Signature(ctx context.Context) (string, error)
	// Load reads and normalises the whole source.
	Load(ctx context.Context, opts Options) (*funnel.Table, error)
}

// FileSource is a CSV file on disk.
type FileSource struct {
	Path string
}

func (s FileSource) Key() string { return "file:" + s.Path }

// Signature is derived from the file's modification time and size.
func (s FileSource) Signature(context.Context) (string, error) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return "", unavailable(s.Path, err)
	}
	return fmt.Sprintf("%d-%d", fi.ModTime().UnixNano(), fi.Size()), nil
}

func (s FileSource) Load(_ context.Context, opts Options) (*funnel.Table, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, unavailable(s.Path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.Path, err)
	}
	log.Info().
		Str("path", s.Path).
		Int("events", len(t.Events)).
		Int("rollups", len(t.Rollups)).
		Int("skipped", t.Skipped).
		Msg("Loaded event table")
	return t, nil
}

// LoadFile loads a CSV file with opts.
func LoadFile(path string, opts Options) (*funnel.Table, error) {
	return FileSource{Path: path}.Load(context.Background(), opts)
}

// EventQuerier is a database holding a funnel events table.
type EventQuerier interface {
	QueryEvents(ctx context.Context, table string) ([]storage.EventRow, error)
	TableSignature(ctx context.Context, table string) (string, error)
}

// DBSource loads the event table from a database.
type DBSource struct {
	Name  string
	DB    EventQuerier
	Table string
}

// NewClickHouseSource reads table from ClickHouse.
func NewClickHouseSource(ch *storage.ClickHouse, table string) DBSource {
	return DBSource{Name: "clickhouse", DB: ch, Table: table}
}

// NewPostgresSource reads table from PostgreSQL.
func NewPostgresSource(pg *storage.Postgres, table string) DBSource {
	return DBSource{Name: "postgres", DB: pg, Table: table}
}

func (s DBSource) Key() string { return s.Name + ":" + s.Table }

func (s DBSource) Signature(ctx context.Context) (string, error) {
	sig, err := s.DB.TableSignature(ctx, s.Table)
	if err != nil {
		return "", unavailable(s.Key(), err)
	}
	return sig, nil
}

func (s DBSource) Load(ctx context.Context, opts Options) (*funnel.Table, error) {
	rows, err := s.DB.QueryEvents(ctx, s.Table)
	if err != nil {
		return nil, unavailable(s.Key(), err)
	}

	n := NewNormalizer(opts.Vocab)
	t := &funnel.Table{Events: make([]funnel.Event, 0, len(rows)), Dropped: map[string]int{}}
	for i, row := range rows {
		ev, err := n.NormalizeRow(row)
		if IsUnknownStage(err) {
			t.Dropped[row.Stage]++
			continue
		}
		if err != nil {
			var mre *MalformedRowError
			if !errors.As(err, &mre) {
				return nil, err
			}
			mre.Line = i + 1
			if !opts.Lenient {
				return nil, fmt.Errorf("load %s: %w", s.Key(), mre)
			}
			t.Skipped++
			log.Warn().Err(mre).Str("source", s.Key()).Msg("Skipping malformed row")
			continue
		}
		t.Events = append(t.Events, ev)
	}
	logDropped(t.Dropped)

	log.Info().
		Str("source", s.Key()).
		Int("events", len(t.Events)).
		Int("skipped", t.Skipped).
		Msg("Loaded event table")
	return t, nil
}

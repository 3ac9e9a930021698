package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gosight/funnel/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// EventRow represents a row in the funnel_events table
type EventRow struct {
	EventID   string
	ActorID   string
	CityTier  string
	Category  string
	SellerID  string
	Stage     string
	Amount    float64
	Timestamp time.Time
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTable reports whether name is safe to interpolate as a table identifier.
func ValidTable(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

// EnsureSchema creates the events table when it does not exist.
func (c *ClickHouse) EnsureSchema(ctx context.Context, table string) error {
	if err := ValidTable(table); err != nil {
		return err
	}
	return c.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id  String,
			actor_id  String,
			city_tier LowCardinality(String),
			category  LowCardinality(String),
			seller_id String,
			stage     LowCardinality(String),
			amount    Float64,
			timestamp DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (stage, timestamp, actor_id)
	`, table))
}

func (c *ClickHouse) InsertEvents(ctx context.Context, table string, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidTable(table); err != nil {
		return err
	}

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			event_id, actor_id, city_tier, category, seller_id,
			stage, amount, timestamp
		)
	`, table))
	if err != nil {
		return err
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, e.ActorID, e.CityTier, e.Category, e.SellerID,
			e.Stage, e.Amount, e.Timestamp,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// QueryEvents reads every row of table ordered by timestamp.
func (c *ClickHouse) QueryEvents(ctx context.Context, table string) ([]EventRow, error) {
	if err := ValidTable(table); err != nil {
		return nil, err
	}

	rows, err := c.conn.Query(ctx, fmt.Sprintf(`
		SELECT actor_id, city_tier, category, seller_id, stage, amount, timestamp
		FROM %s
		ORDER BY timestamp
	`, table))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ActorID, &e.CityTier, &e.Category, &e.SellerID, &e.Stage, &e.Amount, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// TableSignature summarises the table contents so callers can tell when it changed.
func (c *ClickHouse) TableSignature(ctx context.Context, table string) (string, error) {
	if err := ValidTable(table); err != nil {
		return "", err
	}

	var (
		count  uint64
		latest time.Time
	)
	row := c.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count(), max(timestamp) FROM %s`, table))
	if err := row.Scan(&count, &latest); err != nil {
		return "", fmt.Errorf("table signature: %w", err)
	}
	return fmt.Sprintf("%d-%d", count, latest.UnixMilli()), nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosight/funnel/internal/config"
)

// Postgres reads funnel events from a PostgreSQL table.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	db, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// QueryEvents reads every row of table ordered by timestamp.
func (p *Postgres) QueryEvents(ctx context.Context, table string) ([]EventRow, error) {
	if err := ValidTable(table); err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, fmt.Sprintf(`
		SELECT actor_id::text, COALESCE(city_tier::text, ''), COALESCE(category, ''),
		       COALESCE(seller_id::text, ''), stage, COALESCE(amount, 0)::float8, ts
		FROM %s
		ORDER BY ts
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
func (p *Postgres) TableSignature(ctx context.Context, table string) (string, error) {
	if err := ValidTable(table); err != nil {
		return "", err
	}

	var (
		count  int64
		latest *time.Time
	)
	err := p.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*), max(ts) FROM %s`, table)).Scan(&count, &latest)
	if err != nil {
		return "", fmt.Errorf("table signature: %w", err)
	}
	var ms int64
	if latest != nil {
		ms = latest.UnixMilli()
	}
	return fmt.Sprintf("%d-%d", count, ms), nil
}

func (p *Postgres) Close() {
	p.db.Close()
}

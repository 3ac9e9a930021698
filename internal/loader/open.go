package loader

import (
	"context"
	"fmt"

	"github.com/gosight/funnel/internal/config"
	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/storage"
)

// OptionsFromConfig builds load options from the source and stage settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Lenient: cfg.Source.Lenient,
		Vocab:   funnel.NewVocabulary(cfg.Stages.Aliases),
	}
}

// Open connects the configured source. The returned close function releases
// any database connection and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Source, func(), error) {
	switch cfg.Source.Kind {
	case "", "file":
		return FileSource{Path: cfg.Source.Path}, func() {}, nil
	case "clickhouse":
		if err := storage.ValidTable(cfg.Source.Table); err != nil {
			return nil, nil, err
		}
		ch, err := storage.NewClickHouse(cfg.ClickHouse)
		if err != nil {
			return nil, nil, unavailable("clickhouse", err)
		}
		return NewClickHouseSource(ch, cfg.Source.Table), func() { ch.Close() }, nil
	case "postgres":
		if err := storage.ValidTable(cfg.Source.Table); err != nil {
			return nil, nil, err
		}
		pg, err := storage.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, unavailable("postgres", err)
		}
		return NewPostgresSource(pg, cfg.Source.Table), pg.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

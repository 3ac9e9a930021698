package cache

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/metrics"
)

type entry struct {
	signature string
	table     *funnel.Table
}

// Tables caches loaded tables per source key. An entry is replaced only when
// the source signature changes or the entry is invalidated; failed loads are
// never cached.
type Tables struct {
	opts loader.Options

	mu      sync.Mutex
	entries map[string]entry
}

// NewTables creates an empty cache loading with opts.
func NewTables(opts loader.Options) *Tables {
	return &Tables{opts: opts, entries: make(map[string]entry)}
}

// Get returns the table for src, loading it when absent or stale. The
// returned signature identifies the table version.
func (c *Tables) Get(ctx context.Context, src loader.Source) (*funnel.Table, string, error) {
	sig, err := src.Signature(ctx)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := src.Key()
	if e, ok := c.entries[key]; ok && e.signature == sig {
		return e.table, sig, nil
	}

	t, err := src.Load(ctx, c.opts)
	if err != nil {
		metrics.TableLoads.WithLabelValues(key, "error").Inc()
		delete(c.entries, key)
		return nil, "", err
	}
	metrics.TableLoads.WithLabelValues(key, "ok").Inc()
	c.entries[key] = entry{signature: sig, table: t}
	log.Debug().Str("source", key).Str("signature", sig).Msg("Table cache refreshed")
	return t, sig, nil
}

// Invalidate drops the entry for key.
func (c *Tables) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Cached reports whether key currently has an entry.
func (c *Tables) Cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

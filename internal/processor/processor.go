package processor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/config"
	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/metrics"
	"github.com/gosight/funnel/internal/storage"
	"github.com/gosight/funnel/internal/transformer"
)

// EventWriter persists batches of stage events. *storage.ClickHouse
// implements it.
type EventWriter interface {
	InsertEvents(ctx context.Context, table string, events []storage.EventRow) error
}

// EventProcessor buffers stage events from Kafka and writes them in batches.
type EventProcessor struct {
	writer      EventWriter
	table       string
	transformer *transformer.Transformer
	batchCfg    config.BatchConfig

	buffer  []storage.EventRow
	dropped map[string]int

	mu        sync.Mutex
	flushMu   sync.Mutex
	lastFlush time.Time
	ticker    *time.Ticker
	done      chan struct{}
	stopOnce  sync.Once
}

// NewEventProcessor creates a processor and starts its flush ticker.
func NewEventProcessor(w EventWriter, table string, t *transformer.Transformer, batchCfg config.BatchConfig) *EventProcessor {
	if batchCfg.Size <= 0 {
		batchCfg.Size = 1000
	}
	if batchCfg.FlushInterval <= 0 {
		batchCfg.FlushInterval = 5 * time.Second
	}
	if t == nil {
		t = transformer.New(nil)
	}
	p := &EventProcessor{
		writer:      w,
		table:       table,
		transformer: t,
		batchCfg:    batchCfg,
		buffer:      make([]storage.EventRow, 0, batchCfg.Size),
		dropped:     make(map[string]int),
		lastFlush:   time.Now(),
		done:        make(chan struct{}),
	}

	p.ticker = time.NewTicker(batchCfg.FlushInterval)
	go p.flushLoop()

	return p
}

// Process transforms a single message and buffers it. Messages with an
// unknown stage are counted and dropped without an error.
func (p *EventProcessor) Process(ctx context.Context, event map[string]interface{}) error {
	row, err := p.transformer.TransformEvent(event)
	if loader.IsUnknownStage(err) {
		label, _ := event["stage"].(string)
		if label == "" {
			label, _ = event["event"].(string)
		}
		metrics.EventsProcessed.WithLabelValues("dropped").Inc()
		p.mu.Lock()
		p.dropped[label]++
		first := p.dropped[label] == 1
		p.mu.Unlock()
		if first {
			log.Warn().Str("stage", label).Msg("Dropping events with unknown stage")
		}
		return nil
	}
	if err != nil {
		metrics.EventsProcessed.WithLabelValues("malformed").Inc()
		return err
	}
	metrics.EventsProcessed.WithLabelValues("buffered").Inc()

	p.mu.Lock()
	p.buffer = append(p.buffer, *row)
	shouldFlush := len(p.buffer) >= p.batchCfg.Size
	p.mu.Unlock()

	if shouldFlush {
		p.Flush()
	}
	return nil
}

func (p *EventProcessor) flushLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.Flush()
		}
	}
}

// Flush writes all buffered events.
func (p *EventProcessor) Flush() {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	events := p.buffer
	p.buffer = make([]storage.EventRow, 0, p.batchCfg.Size)
	p.lastFlush = time.Now()
	p.mu.Unlock()

	start := time.Now()
	err := p.writer.InsertEvents(context.Background(), p.table, events)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EventsFlushed.WithLabelValues("error").Add(float64(len(events)))
		log.Error().Err(err).Int("count", len(events)).Msg("Failed to insert events")
		return
	}
	metrics.EventsFlushed.WithLabelValues("ok").Add(float64(len(events)))
	log.Info().
		Int("count", len(events)).
		Str("table", p.table).
		Dur("duration", time.Since(start)).
		Msg("Flushed events to ClickHouse")
}

// Dropped returns a copy of the unknown-stage counts seen so far.
func (p *EventProcessor) Dropped() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.dropped))
	for k, v := range p.dropped {
		out[k] = v
	}
	return out
}

// Pending returns the number of buffered events.
func (p *EventProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Stop stops the ticker and flushes what is left. It is safe to call twice.
func (p *EventProcessor) Stop() {
	p.stopOnce.Do(func() {
		p.ticker.Stop()
		close(p.done)
		p.Flush()
	})
}

package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/buffer"
	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/realtime"
)

// Config holds journal settings.
type Config struct {
	Topic         string
	BatchSize     int
	FlushInterval time.Duration

	// BufferSize caps queued events; the oldest are dropped beyond it.
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Topic:         realtime.DefaultTopic,
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Stats contains journal counters.
type Stats struct {
	Received int64 `json:"received"`
	Inserts  int64 `json:"inserts"`
	Flushes  int64 `json:"flushes"`
	Errors   int64 `json:"errors"`
	Dropped  int64 `json:"dropped"`
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the clock driving the flush interval.
func WithClock(c clockwork.Clock) Option {
	return func(j *Journal) { j.clock = c }
}

// Journal consumes ChangeEvents from the bus and writes them to room_events.
type Journal struct {
	cfg    Config
	db     BatchSender
	bus    *eventbus.Bus
	clock  clockwork.Clock
	logger *slog.Logger

	input *buffer.Queue[realtime.ChangeEvent]

	batch   []eventRow
	batchMu sync.Mutex
	stats   Stats

	removeListener func()
	cancel         context.CancelFunc
	consumed       chan struct{}
	wg             sync.WaitGroup
}

type eventRow struct {
	Resource   string
	EventType  string
	RowID      *string
	Data       []byte
	OldData    []byte
	ReceivedAt time.Time
}

// New creates a journal writing through db.
func New(cfg Config, db BatchSender, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = d.Topic
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = d.BufferSize
	}

	j := &Journal{
		cfg:    cfg,
		db:     db,
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		logger: logger,
		input:  buffer.New[realtime.ChangeEvent](min(cfg.BufferSize, 64), cfg.BufferSize),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start attaches to the bus and begins writing. The workers keep running
// after ctx is cancelled; only Stop ends them, once the queue is drained.
func (j *Journal) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancel
	j.consumed = make(chan struct{})

	if j.bus != nil {
		j.removeListener = realtime.Listen(j.bus, j.cfg.Topic, j.Record)
	}

	ticker := j.clock.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(2)
	go j.consumeLoop(runCtx)
	go j.flushLoop(runCtx, ticker)

	j.logger.Info("change journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop detaches from the bus, writes what is queued, and shuts down.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping change journal")

	if j.removeListener != nil {
		j.removeListener()
	}
	// The consumer drains the closed queue before it exits.
	j.input.Close()

	if j.cancel != nil {
		select {
		case <-j.consumed:
		case <-ctx.Done():
			j.logger.Warn("change journal stop timed out", "pending", j.input.Len())
		}
		j.cancel()
		j.wg.Wait()
	}

	// Final flush
	j.flush(ctx)

	j.logger.Info("change journal stopped", "inserts", j.Stats().Inserts)
	return nil
}

// Record queues an event for writing. It never blocks the caller.
func (j *Journal) Record(ev realtime.ChangeEvent) {
	if !j.input.Push(ev) {
		return
	}

	j.batchMu.Lock()
	j.stats.Received++
	j.batchMu.Unlock()
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	stats := j.stats
	j.batchMu.Unlock()

	stats.Dropped = j.input.Stats().Dropped
	return stats
}

// Pending returns the number of events queued but not yet batched.
func (j *Journal) Pending() int {
	return j.input.Len()
}

// consumeLoop moves events from the queue into the batch.
func (j *Journal) consumeLoop(ctx context.Context) {
	defer j.wg.Done()
	defer close(j.consumed)

	for {
		ev, ok := j.input.Receive(ctx)
		if !ok {
			return
		}
		j.handleEvent(ctx, ev)
	}
}

// flushLoop periodically flushes the batch.
func (j *Journal) flushLoop(ctx context.Context, ticker clockwork.Ticker) {
	defer j.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.flush(ctx)
		}
	}
}

func (j *Journal) handleEvent(ctx context.Context, ev realtime.ChangeEvent) {
	row := transform(ev)

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	shouldFlush := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if shouldFlush {
		j.flush(ctx)
	}
}

// transform converts a ChangeEvent into a room_events row.
func transform(ev realtime.ChangeEvent) eventRow {
	row := eventRow{
		Resource:   ev.Resource,
		EventType:  strings.ToLower(ev.Type),
		ReceivedAt: ev.Timestamp.UTC(),
	}
	for _, m := range []map[string]any{ev.Data, ev.OldData} {
		if id, ok := m["id"].(string); ok && id != "" {
			row.RowID = &id
			break
		}
	}

	row.Data = marshalRow(ev.Data)
	if row.Data == nil {
		row.Data = []byte("{}")
	}
	if ev.OldData != nil {
		row.OldData = marshalRow(ev.OldData)
	}
	return row
}

func marshalRow(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]eventRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := j.clock.Now()

	err := j.batchInsert(ctx, batch)
	if err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.stats.Inserts += int64(len(batch))
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed change events",
		"count", len(batch),
		"duration", j.clock.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (j *Journal) batchInsert(ctx context.Context, rows []eventRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO room_events (resource, event_type, row_id, data, old_data, received_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.Resource, r.EventType, r.RowID, r.Data, r.OldData, r.ReceivedAt)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

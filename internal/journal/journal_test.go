package journal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/realtime"
)

// fakeDB records every batch it receives.
type fakeDB struct {
	mu        sync.Mutex
	batches   [][]*pgx.QueuedQuery
	cancelled int
	err       error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		f.cancelled++
		return &fakeResults{err: ctx.Err()}
	}
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{err: f.err}
}

func (f *fakeDB) cancelledSends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeDB) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	err error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func testEvent(id string) realtime.ChangeEvent {
	return realtime.ChangeEvent{
		Resource:  "rooms",
		Type:      "UPDATE",
		Data:      map[string]any{"id": id, "status": "clean"},
		OldData:   map[string]any{"id": id, "status": "dirty"},
		Timestamp: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestTransform(t *testing.T) {
	row := transform(testEvent("r1"))

	if row.Resource != "rooms" {
		t.Errorf("Resource = %q, want rooms", row.Resource)
	}
	if row.EventType != "update" {
		t.Errorf("EventType = %q, want update", row.EventType)
	}
	if row.RowID == nil || *row.RowID != "r1" {
		t.Errorf("RowID = %v, want r1", row.RowID)
	}
	var data map[string]any
	if err := json.Unmarshal(row.Data, &data); err != nil {
		t.Fatalf("Data not JSON: %v", err)
	}
	if data["status"] != "clean" {
		t.Errorf("Data.status = %v, want clean", data["status"])
	}
	if row.OldData == nil {
		t.Error("OldData = nil, want old row")
	}
}

func TestTransform_Delete(t *testing.T) {
	row := transform(realtime.ChangeEvent{
		Resource: "rooms",
		Type:     "DELETE",
		Data:     map[string]any{},
		OldData:  map[string]any{"id": "r9"},
	})

	if row.RowID == nil || *row.RowID != "r9" {
		t.Errorf("RowID = %v, want r9 from old row", row.RowID)
	}
	if string(row.Data) != "{}" {
		t.Errorf("Data = %s, want {}", row.Data)
	}
}

func TestTransform_NoID(t *testing.T) {
	row := transform(realtime.ChangeEvent{Type: "insert"})

	if row.RowID != nil {
		t.Errorf("RowID = %v, want nil", *row.RowID)
	}
	if string(row.Data) != "{}" {
		t.Errorf("Data = %s, want {}", row.Data)
	}
	if row.OldData != nil {
		t.Errorf("OldData = %s, want nil", row.OldData)
	}
}

func TestJournal_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	bus := eventbus.New(discardLogger())
	j := New(Config{BatchSize: 3, FlushInterval: time.Hour}, db, bus, discardLogger(), WithClock(clockwork.NewFakeClock()))
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	for _, id := range []string{"r1", "r2", "r3"} {
		bus.Broadcast(realtime.DefaultTopic, testEvent(id))
	}

	waitUntil(t, func() bool { return db.rows() == 3 })
	if got := db.batchCount(); got != 1 {
		t.Errorf("batches = %d, want 1", got)
	}

	stats := j.Stats()
	if stats.Received != 3 {
		t.Errorf("Received = %d, want 3", stats.Received)
	}
	if stats.Inserts != 3 {
		t.Errorf("Inserts = %d, want 3", stats.Inserts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestJournal_FlushOnInterval(t *testing.T) {
	db := &fakeDB{}
	clock := clockwork.NewFakeClock()
	j := New(Config{BatchSize: 100, FlushInterval: time.Second}, db, nil, discardLogger(), WithClock(clock))
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	j.Record(testEvent("r1"))
	waitUntil(t, func() bool {
		j.batchMu.Lock()
		defer j.batchMu.Unlock()
		return len(j.batch) == 1
	})
	if db.rows() != 0 {
		t.Fatalf("rows = %d before interval, want 0", db.rows())
	}

	if err := clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(time.Second)

	waitUntil(t, func() bool { return db.rows() == 1 })
}

func TestJournal_StopFlushesPending(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour}, db, nil, discardLogger(), WithClock(clockwork.NewFakeClock()))
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		j.Record(testEvent("r1"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.rows(); got != 5 {
		t.Errorf("rows = %d, want 5", got)
	}

	// Events after Stop are ignored.
	j.Record(testEvent("r2"))
	if got := j.Stats().Received; got != 5 {
		t.Errorf("Received = %d, want 5", got)
	}
}

func TestJournal_OutlivesStartContext(t *testing.T) {
	db := &fakeDB{}
	bus := eventbus.New(discardLogger())
	j := New(Config{BatchSize: 3, FlushInterval: time.Hour}, db, bus, discardLogger(), WithClock(clockwork.NewFakeClock()))

	ctx, cancel := context.WithCancel(context.Background())
	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Shutdown signal arrives before Stop detaches the listener.
	cancel()

	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		bus.Broadcast(realtime.DefaultTopic, testEvent(id))
	}
	waitUntil(t, func() bool { return db.rows() == 3 })

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := j.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := db.rows(); got != 5 {
		t.Errorf("rows = %d, want 5", got)
	}
	if got := db.cancelledSends(); got != 0 {
		t.Errorf("sends with cancelled context = %d, want 0", got)
	}
	if got := j.Stats().Errors; got != 0 {
		t.Errorf("Errors = %d, want 0", got)
	}
}

func TestJournal_InsertErrorCounted(t *testing.T) {
	db := &fakeDB{err: errors.New("relation does not exist")}
	j := New(Config{BatchSize: 1, FlushInterval: time.Hour}, db, nil, discardLogger(), WithClock(clockwork.NewFakeClock()))
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer j.Stop(context.Background())

	j.Record(testEvent("r1"))

	waitUntil(t, func() bool { return j.Stats().Errors == 1 })
	if got := j.Stats().Inserts; got != 0 {
		t.Errorf("Inserts = %d, want 0", got)
	}
}

func TestJournal_DropsOldestWhenFull(t *testing.T) {
	db := &fakeDB{}
	j := New(Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 2}, db, nil, discardLogger())

	// Not started, so nothing consumes the queue.
	for i := 0; i < 5; i++ {
		j.Record(testEvent("r1"))
	}

	stats := j.Stats()
	if stats.Received != 5 {
		t.Errorf("Received = %d, want 5", stats.Received)
	}
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}
	if j.Pending() != 2 {
		t.Errorf("Pending = %d, want 2", j.Pending())
	}
}

func TestJournal_StopWithoutStart(t *testing.T) {
	j := New(DefaultConfig(), &fakeDB{}, nil, discardLogger())
	if err := j.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

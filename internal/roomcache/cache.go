package roomcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/model"
	"github.com/rickgao/housekeeping/internal/realtime"
)

// Resource names the cache understands.
const (
	ResourceRooms    = "rooms"
	ResourceStatuses = "custom_statuses"
)

// Config holds cache configuration.
type Config struct {
	// Topic is the bus topic realtime ChangeEvents arrive on.
	Topic string

	ReconcileInterval  time.Duration
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Topic:              realtime.DefaultTopic,
		ReconcileInterval:  5 * time.Minute,
		InitialLoadTimeout: 30 * time.Second,
	}
}

// Source is the store subset the cache reads from.
type Source interface {
	ListRooms(ctx context.Context) ([]model.Room, error)
	ListStatuses(ctx context.Context) ([]model.CustomStatus, error)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Rooms         int       `json:"rooms"`
	Statuses      int       `json:"statuses"`
	EventsApplied int64     `json:"events_applied"`
	EventsIgnored int64     `json:"events_ignored"`
	Syncs         int64     `json:"syncs"`
	DriftFixed    int64     `json:"drift_fixed"`
	LastSyncAt    time.Time `json:"last_sync_at"`
	LastEventAt   time.Time `json:"last_event_at"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock driving reconciliation.
func WithClock(c clockwork.Clock) Option {
	return func(cc *Cache) { cc.clock = c }
}

// Cache mirrors the store in memory.
type Cache struct {
	cfg    Config
	source Source
	bus    *eventbus.Bus
	clock  clockwork.Clock
	logger *slog.Logger

	state *cacheState

	removeListener func()
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// New creates a cache. bus may be nil, in which case only reconciliation
// updates it.
func New(cfg Config, source Source, bus *eventbus.Bus, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = d.Topic
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = d.ReconcileInterval
	}
	if cfg.InitialLoadTimeout <= 0 {
		cfg.InitialLoadTimeout = d.InitialLoadTimeout
	}

	c := &Cache{
		cfg:    cfg,
		source: source,
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		logger: logger,
		state:  newState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the initial state, then listens for changes and reconciles
// in the background.
func (c *Cache) Start(ctx context.Context) error {
	loadCtx, cancelLoad := context.WithTimeout(ctx, c.cfg.InitialLoadTimeout)
	defer cancelLoad()

	start := c.clock.Now()
	if _, err := c.sync(loadCtx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}

	if c.bus != nil {
		c.removeListener = realtime.Listen(c.bus, c.cfg.Topic, c.Apply)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconciliationLoop(runCtx)
	}()

	stats := c.Stats()
	c.logger.Info("room cache started",
		"rooms", stats.Rooms,
		"statuses", stats.Statuses,
		"duration", c.clock.Since(start),
	)
	return nil
}

// Stop detaches from the bus and stops reconciliation.
func (c *Cache) Stop(ctx context.Context) error {
	if c.removeListener != nil {
		c.removeListener()
	}
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("room cache stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rooms returns every room ordered by room number.
func (c *Cache) Rooms() []model.Room {
	return c.state.getRooms()
}

// Room returns a room by ID.
func (c *Cache) Room(id string) (model.Room, bool) {
	return c.state.getRoom(id)
}

// RoomsByStatus returns rooms with the given status ordered by room number.
func (c *Cache) RoomsByStatus(status string) []model.Room {
	return c.state.getRoomsByStatus(status)
}

// Statuses returns custom statuses ordered by sort order, then name.
func (c *Cache) Statuses() []model.CustomStatus {
	return c.state.getStatuses()
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	s := c.state
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Rooms:         len(s.rooms),
		Statuses:      len(s.statuses),
		EventsApplied: s.eventsApplied,
		EventsIgnored: s.eventsIgnored,
		Syncs:         s.syncs,
		DriftFixed:    s.driftFixed,
		LastSyncAt:    s.lastSyncAt,
		LastEventAt:   s.lastEventAt,
	}
}

// Apply folds a ChangeEvent into the cache. Inserts and updates upsert the
// new row, deletes remove the old one. Updates older than the cached row
// are ignored.
func (c *Cache) Apply(ev realtime.ChangeEvent) {
	var err error
	var applied bool
	switch ev.Resource {
	case ResourceRooms:
		applied, err = c.applyRoom(ev)
	case ResourceStatuses:
		applied, err = c.applyStatus(ev)
	default:
		c.logger.Debug("ignoring change for unknown resource", "resource", ev.Resource)
		return
	}

	c.state.mu.Lock()
	if applied {
		c.state.eventsApplied++
		c.state.lastEventAt = ev.Timestamp
	} else {
		c.state.eventsIgnored++
	}
	c.state.mu.Unlock()

	if err != nil {
		c.logger.Warn("change event not applied",
			"resource", ev.Resource,
			"type", ev.Type,
			"error", err,
		)
	}
}

var errNoID = errors.New("row has no id")

func (c *Cache) applyRoom(ev realtime.ChangeEvent) (bool, error) {
	if isDelete(ev.Type) {
		id := rowID(ev)
		if id == "" {
			return false, errNoID
		}
		c.state.mu.Lock()
		defer c.state.mu.Unlock()
		return c.state.removeRoomLocked(id), nil
	}

	r, err := model.RoomFromMap(ev.Data)
	if err != nil {
		return false, err
	}
	if r.ID == "" {
		return false, errNoID
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if existing, ok := c.state.rooms[r.ID]; ok && existing.UpdatedAt.After(r.UpdatedAt) {
		return false, nil
	}
	c.state.upsertRoomLocked(r)
	return true, nil
}

func (c *Cache) applyStatus(ev realtime.ChangeEvent) (bool, error) {
	if isDelete(ev.Type) {
		id := rowID(ev)
		if id == "" {
			return false, errNoID
		}
		c.state.mu.Lock()
		defer c.state.mu.Unlock()
		if _, ok := c.state.statuses[id]; !ok {
			return false, nil
		}
		delete(c.state.statuses, id)
		return true, nil
	}

	st, err := model.StatusFromMap(ev.Data)
	if err != nil {
		return false, err
	}
	if st.ID == "" {
		return false, errNoID
	}

	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.statuses[st.ID] = &st
	return true, nil
}

func isDelete(eventType string) bool {
	return strings.EqualFold(eventType, "delete")
}

// rowID finds the affected row's id, preferring the old row for deletes.
func rowID(ev realtime.ChangeEvent) string {
	for _, row := range []map[string]any{ev.OldData, ev.Data} {
		if id, ok := row["id"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

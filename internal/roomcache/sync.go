package roomcache

import (
	"context"
	"fmt"

	"github.com/rickgao/housekeeping/internal/model"
)

// reconciliationLoop periodically reloads from the store.
func (c *Cache) reconciliationLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Reconcile(ctx)
		}
	}
}

// Reconcile reloads from the store and logs what the change feed missed.
func (c *Cache) Reconcile(ctx context.Context) {
	start := c.clock.Now()

	drift, err := c.sync(ctx)
	if err != nil {
		c.logger.Error("reconciliation failed", "error", err)
		return
	}

	if drift.total() > 0 {
		c.logger.Info("reconciliation found changes",
			"created", drift.created,
			"changed", drift.changed,
			"removed", drift.removed,
			"duration", c.clock.Since(start),
		)
	} else {
		c.logger.Debug("reconciliation complete", "duration", c.clock.Since(start))
	}
}

type drift struct {
	created, changed, removed int
}

func (d drift) total() int {
	return d.created + d.changed + d.removed
}

// sync replaces the cached state with the store's and reports the
// differences.
func (c *Cache) sync(ctx context.Context) (drift, error) {
	rooms, err := c.source.ListRooms(ctx)
	if err != nil {
		return drift{}, fmt.Errorf("list rooms: %w", err)
	}
	statuses, err := c.source.ListStatuses(ctx)
	if err != nil {
		return drift{}, fmt.Errorf("list statuses: %w", err)
	}

	var d drift
	seen := make(map[string]struct{}, len(rooms))

	s := c.state
	s.mu.Lock()
	defer s.mu.Unlock()

	initial := s.syncs == 0
	for _, r := range rooms {
		seen[r.ID] = struct{}{}
		existing, ok := s.rooms[r.ID]
		switch {
		case !ok:
			d.created++
		case !sameRoom(*existing, r):
			d.changed++
		default:
			continue
		}
		s.upsertRoomLocked(r)
	}
	for id := range s.rooms {
		if _, ok := seen[id]; !ok {
			s.removeRoomLocked(id)
			d.removed++
		}
	}

	s.statuses = make(map[string]*model.CustomStatus, len(statuses))
	for i := range statuses {
		s.statuses[statuses[i].ID] = &statuses[i]
	}

	s.syncs++
	s.lastSyncAt = c.clock.Now()
	if !initial {
		s.driftFixed += int64(d.total())
	}
	return d, nil
}

func sameRoom(a, b model.Room) bool {
	if a.Number != b.Number || a.Name != b.Name || a.Floor != b.Floor ||
		a.Status != b.Status || a.Notes != b.Notes || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if (a.LastCleanedAt == nil) != (b.LastCleanedAt == nil) {
		return false
	}
	return a.LastCleanedAt == nil || a.LastCleanedAt.Equal(*b.LastCleanedAt)
}

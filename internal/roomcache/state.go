package roomcache

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/housekeeping/internal/model"
)

// cacheState holds the thread-safe room and status maps.
type cacheState struct {
	mu sync.RWMutex

	// All rooms indexed by ID.
	rooms map[string]*model.Room

	// Room IDs indexed by status.
	byStatus map[string]map[string]struct{}

	// Custom statuses indexed by ID.
	statuses map[string]*model.CustomStatus

	lastSyncAt  time.Time
	lastEventAt time.Time

	eventsApplied int64
	eventsIgnored int64
	syncs         int64
	driftFixed    int64
}

func newState() *cacheState {
	return &cacheState{
		rooms:    make(map[string]*model.Room),
		byStatus: make(map[string]map[string]struct{}),
		statuses: make(map[string]*model.CustomStatus),
	}
}

func (s *cacheState) getRoom(id string) (model.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return model.Room{}, false
	}
	return *r, true
}

func (s *cacheState) getRooms() []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		result = append(result, *r)
	}
	sortRooms(result)
	return result
}

func (s *cacheState) getRoomsByStatus(status string) []model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byStatus[status]
	result := make([]model.Room, 0, len(ids))
	for id := range ids {
		if r, ok := s.rooms[id]; ok {
			result = append(result, *r)
		}
	}
	sortRooms(result)
	return result
}

func (s *cacheState) getStatuses() []model.CustomStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.CustomStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		result = append(result, *st)
	}
	slices.SortFunc(result, func(a, b model.CustomStatus) int {
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return result
}

// upsertRoomLocked adds or replaces a room (caller must hold write lock).
func (s *cacheState) upsertRoomLocked(r model.Room) {
	if old, ok := s.rooms[r.ID]; ok {
		s.unindexLocked(old)
	}
	rCopy := r
	s.rooms[r.ID] = &rCopy

	ids := s.byStatus[r.Status]
	if ids == nil {
		ids = make(map[string]struct{})
		s.byStatus[r.Status] = ids
	}
	ids[r.ID] = struct{}{}
}

// removeRoomLocked deletes a room (caller must hold write lock).
func (s *cacheState) removeRoomLocked(id string) bool {
	old, ok := s.rooms[id]
	if !ok {
		return false
	}
	s.unindexLocked(old)
	delete(s.rooms, id)
	return true
}

func (s *cacheState) unindexLocked(r *model.Room) {
	ids := s.byStatus[r.Status]
	delete(ids, r.ID)
	if len(ids) == 0 {
		delete(s.byStatus, r.Status)
	}
}

func sortRooms(rooms []model.Room) {
	slices.SortFunc(rooms, func(a, b model.Room) int {
		return cmp.Compare(a.Number, b.Number)
	})
}

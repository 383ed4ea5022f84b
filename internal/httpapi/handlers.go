package httpapi

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/housekeeping/internal/model"
	"github.com/rickgao/housekeeping/internal/version"
)

const healthTimeout = 5 * time.Second

var builtinStatuses = []string{
	model.StatusDirty,
	model.StatusInProgress,
	model.StatusClean,
	model.StatusInspected,
}

type roomRequest struct {
	RoomNumber    string     `json:"room_number" binding:"required"`
	Name          string     `json:"name"`
	Floor         int        `json:"floor"`
	Status        string     `json:"status"`
	Notes         string     `json:"notes"`
	LastCleanedAt *time.Time `json:"last_cleaned_at"`
}

type statusRequest struct {
	Name      string `json:"name" binding:"required"`
	Color     string `json:"color" binding:"omitempty,hexcolor"`
	SortOrder int    `json:"sort_order"`
}

// Health states
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

type healthResponse struct {
	Status     string         `json:"status"`
	Version    version.Info   `json:"version"`
	Components map[string]any `json:"components"`
}

// health reports unhealthy when the database is unreachable and degraded
// while the realtime feed is down.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{
		Status:     HealthHealthy,
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	rt := s.deps.Realtime.Status()
	resp.Components["realtime"] = rt.State
	if !rt.IsConnected {
		resp.Status = HealthDegraded
	}

	resp.Components["room_cache"] = gin.H{"rooms": s.deps.Rooms.Stats().Rooms}

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			resp.Status = HealthUnhealthy
			resp.Components["database"] = gin.H{"status": "disconnected", "error": err.Error()}
		} else {
			resp.Components["database"] = "connected"
		}
	}

	code := http.StatusOK
	if resp.Status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) realtimeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Realtime.Status())
}

func (s *Server) realtimeConnect(c *gin.Context) {
	s.deps.Realtime.Connect()
	c.JSON(http.StatusAccepted, s.deps.Realtime.Status())
}

func (s *Server) realtimeDisconnect(c *gin.Context) {
	s.deps.Realtime.Disconnect()
	c.JSON(http.StatusAccepted, s.deps.Realtime.Status())
}

func (s *Server) realtimeReconnect(c *gin.Context) {
	s.deps.Realtime.Reconnect()
	c.JSON(http.StatusAccepted, s.deps.Realtime.Status())
}

func (s *Server) listRooms(c *gin.Context) {
	if status := c.Query("status"); status != "" {
		c.JSON(http.StatusOK, s.deps.Rooms.RoomsByStatus(status))
		return
	}
	c.JSON(http.StatusOK, s.deps.Rooms.Rooms())
}

func (s *Server) getRoom(c *gin.Context) {
	room, ok := s.deps.Rooms.Room(c.Param("id"))
	if !ok {
		abort(c, http.StatusNotFound, CodeNotFound, "room not found")
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) createRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if req.Status == "" {
		req.Status = model.StatusDirty
	}
	if !s.knownStatus(req.Status) {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "unknown status "+req.Status)
		return
	}

	room, err := s.deps.Store.InsertRoom(c.Request.Context(), req.room(""))
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("room created", "id", room.ID, "room_number", room.Number)
	c.JSON(http.StatusCreated, room)
}

func (s *Server) updateRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	ctx := c.Request.Context()
	current, err := s.deps.Store.GetRoom(ctx, c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if req.Status == "" {
		req.Status = current.Status
	}
	if !s.knownStatus(req.Status) {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "unknown status "+req.Status)
		return
	}

	room := req.room(current.ID)
	if room.LastCleanedAt == nil {
		room.LastCleanedAt = current.LastCleanedAt
	}
	// Moving into clean stamps the cleaning time unless the client set it.
	if room.Status == model.StatusClean && current.Status != model.StatusClean && req.LastCleanedAt == nil {
		now := time.Now().UTC()
		room.LastCleanedAt = &now
	}

	room, err = s.deps.Store.UpdateRoom(ctx, room)
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("room updated", "id", room.ID, "status", room.Status)
	c.JSON(http.StatusOK, room)
}

func (s *Server) deleteRoom(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteRoom(c.Request.Context(), id); err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("room deleted", "id", id)
	c.Status(http.StatusNoContent)
}

func (s *Server) listStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Rooms.Statuses())
}

func (s *Server) createStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if slices.Contains(builtinStatuses, req.Name) {
		abort(c, http.StatusConflict, CodeConflict, "status "+req.Name+" is built in")
		return
	}

	status, err := s.deps.Store.InsertStatus(c.Request.Context(), model.CustomStatus{
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("status created", "id", status.ID, "name", status.Name)
	c.JSON(http.StatusCreated, status)
}

func (s *Server) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if slices.Contains(builtinStatuses, req.Name) {
		abort(c, http.StatusConflict, CodeConflict, "status "+req.Name+" is built in")
		return
	}

	status, err := s.deps.Store.UpdateStatus(c.Request.Context(), model.CustomStatus{
		ID:        c.Param("id"),
		Name:      req.Name,
		Color:     req.Color,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) deleteStatus(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Store.DeleteStatus(c.Request.Context(), id); err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("status deleted", "id", id)
	c.Status(http.StatusNoContent)
}

func (s *Server) stats(c *gin.Context) {
	out := gin.H{
		"realtime": s.deps.Realtime.Status(),
		"cache":    s.deps.Rooms.Stats(),
	}
	if s.deps.Journal != nil {
		out["journal"] = s.deps.Journal.Stats()
	}
	c.JSON(http.StatusOK, out)
}

// knownStatus reports whether name is built in or a custom status in the
// cache.
func (s *Server) knownStatus(name string) bool {
	if slices.Contains(builtinStatuses, name) {
		return true
	}
	return slices.ContainsFunc(s.deps.Rooms.Statuses(), func(cs model.CustomStatus) bool {
		return cs.Name == name
	})
}

func (r roomRequest) room(id string) model.Room {
	return model.Room{
		ID:            id,
		Number:        r.RoomNumber,
		Name:          r.Name,
		Floor:         r.Floor,
		Status:        r.Status,
		Notes:         r.Notes,
		LastCleanedAt: r.LastCleanedAt,
	}
}

package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
	"github.com/rickgao/housekeeping/internal/metrics"
	"github.com/rickgao/housekeeping/internal/model"
	"github.com/rickgao/housekeeping/internal/realtime"
	"github.com/rickgao/housekeeping/internal/roomcache"
	"github.com/rickgao/housekeeping/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	hub     *feed.Hub
	store   *store.SQLite
	manager *realtime.Manager
	cache   *roomcache.Cache
	server  *Server
}

// newHarness wires a local-mode stack: sqlite store publishing to an
// in-process hub, with a connected Manager feeding the cache.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := feed.NewHub(logger)
	st, err := store.NewSQLite(":memory:", hub, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(logger)
	m := metrics.New("test")
	mgr := realtime.NewManager(realtime.Config{}, hub, bus, logger, realtime.WithRecorder(m))
	t.Cleanup(mgr.Close)

	cache := roomcache.New(roomcache.Config{}, st, bus, logger)
	require.NoError(t, cache.Start(context.Background()))
	t.Cleanup(func() { cache.Stop(context.Background()) })

	srv := New(Config{}, Deps{
		Realtime: mgr,
		Rooms:    cache,
		Store:    st,
		Bus:      bus,
		Topic:    mgr.Topic(),
		Database: st,
		Metrics:  m,
	}, logger)

	_, err = mgr.Follow(store.TableStatuses)
	require.NoError(t, err)
	mgr.Connect()
	require.Equal(t, realtime.StateConnected, mgr.Status().State)

	return &harness{hub: hub, store: st, manager: mgr, cache: cache, server: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (h *harness) createRoom(t *testing.T, body map[string]any) model.Room {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/rooms", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := decode[model.Room](t, w)
	require.Eventually(t, func() bool {
		_, ok := h.cache.Room(room.ID)
		return ok
	}, waitFor, tick)
	return room
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	body := decode[healthResponse](t, w)
	assert.Equal(t, HealthHealthy, body.Status)
	assert.Equal(t, "connected", body.Components["realtime"])
	assert.Equal(t, "connected", body.Components["database"])
	assert.NotEmpty(t, body.Version.Version)
}

func TestHealth_DegradedWhenDisconnected(t *testing.T) {
	h := newHarness(t)
	h.manager.Disconnect()

	w := h.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, HealthDegraded, decode[healthResponse](t, w).Status)
}

func TestHealth_UnhealthyWhenDatabaseDown(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())

	w := h.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[healthResponse](t, w)
	assert.Equal(t, HealthUnhealthy, body.Status)
	assert.Contains(t, body.Components["database"], "error")
}

func TestRealtimeControl(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/realtime/disconnect", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, "disconnected", status["state"])
	assert.Equal(t, false, status["isConnected"])
	assert.Nil(t, status["error"])

	w = h.do(t, http.MethodGet, "/api/realtime/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disconnected", decode[map[string]any](t, w)["state"])

	w = h.do(t, http.MethodPost, "/api/realtime/reconnect", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	status = decode[map[string]any](t, w)
	assert.Equal(t, "connected", status["state"])
	assert.Equal(t, float64(0), status["connectionAttempts"])

	w = h.do(t, http.MethodPost, "/api/realtime/connect", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "connected", decode[map[string]any](t, w)["state"])
}

func TestRoomLifecycle(t *testing.T) {
	h := newHarness(t)

	room := h.createRoom(t, map[string]any{"room_number": "101", "name": "Garden Suite", "floor": 1})
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, model.StatusDirty, room.Status)
	assert.Nil(t, room.LastCleanedAt)

	w := h.do(t, http.MethodGet, "/api/rooms/"+room.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Garden Suite", decode[model.Room](t, w).Name)

	w = h.do(t, http.MethodPut, "/api/rooms/"+room.ID, map[string]any{
		"room_number": "101",
		"name":        "Garden Suite",
		"floor":       1,
		"status":      model.StatusClean,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.Room](t, w)
	assert.Equal(t, model.StatusClean, updated.Status)
	require.NotNil(t, updated.LastCleanedAt)

	require.Eventually(t, func() bool {
		return len(h.cache.RoomsByStatus(model.StatusClean)) == 1
	}, waitFor, tick)
	w = h.do(t, http.MethodGet, "/api/rooms?status=clean", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Room](t, w), 1)

	w = h.do(t, http.MethodGet, "/api/rooms?status=dirty", nil)
	assert.Empty(t, decode[[]model.Room](t, w))

	w = h.do(t, http.MethodDelete, "/api/rooms/"+room.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Eventually(t, func() bool {
		return h.do(t, http.MethodGet, "/api/rooms/"+room.ID, nil).Code == http.StatusNotFound
	}, waitFor, tick)
}

func TestUpdateRoomKeepsStatusWhenOmitted(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, map[string]any{"room_number": "102", "status": model.StatusInProgress})

	w := h.do(t, http.MethodPut, "/api/rooms/"+room.ID, map[string]any{"room_number": "102", "notes": "late checkout"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.Room](t, w)
	assert.Equal(t, model.StatusInProgress, updated.Status)
	assert.Equal(t, "late checkout", updated.Notes)
}

func TestRoomErrors(t *testing.T) {
	h := newHarness(t)
	h.createRoom(t, map[string]any{"room_number": "201"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing room number", http.MethodPost, "/api/rooms", map[string]any{"floor": 2}, http.StatusBadRequest, CodeInvalidRequest},
		{"unknown status", http.MethodPost, "/api/rooms", map[string]any{"room_number": "202", "status": "sparkly"}, http.StatusBadRequest, CodeInvalidRequest},
		{"duplicate room number", http.MethodPost, "/api/rooms", map[string]any{"room_number": "201"}, http.StatusConflict, CodeConflict},
		{"get missing", http.MethodGet, "/api/rooms/nope", nil, http.StatusNotFound, CodeNotFound},
		{"update missing", http.MethodPut, "/api/rooms/nope", map[string]any{"room_number": "9"}, http.StatusNotFound, CodeNotFound},
		{"delete missing", http.MethodDelete, "/api/rooms/nope", nil, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Error.Code)
		})
	}
}

func TestStatuses(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/statuses", map[string]any{"name": "needs_linen", "color": "#ff8800", "sort_order": 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	status := decode[model.CustomStatus](t, w)
	assert.NotEmpty(t, status.ID)

	require.Eventually(t, func() bool { return len(h.cache.Statuses()) == 1 }, waitFor, tick)
	w = h.do(t, http.MethodGet, "/api/statuses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]model.CustomStatus](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, "needs_linen", listed[0].Name)

	// Rooms may use the custom status once the cache has it.
	room := h.createRoom(t, map[string]any{"room_number": "301", "status": "needs_linen"})
	assert.Equal(t, "needs_linen", room.Status)

	w = h.do(t, http.MethodPut, "/api/statuses/"+status.ID, map[string]any{"name": "needs_towels", "color": "#00ff00"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "needs_towels", decode[model.CustomStatus](t, w).Name)

	w = h.do(t, http.MethodDelete, "/api/statuses/"+status.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool { return len(h.cache.Statuses()) == 0 }, waitFor, tick)
}

func TestStatusErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/statuses", map[string]any{"name": model.StatusClean})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/api/statuses", map[string]any{"name": "odd", "color": "orange"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/statuses", map[string]any{"color": "#fff"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodDelete, "/api/statuses/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.createRoom(t, map[string]any{"room_number": "401"})

	w := h.do(t, http.MethodGet, "/api/stats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]json.RawMessage](t, w)
	assert.Contains(t, body, "realtime")
	assert.NotContains(t, body, "journal")

	var cache roomcache.Stats
	require.NoError(t, json.Unmarshal(body["cache"], &cache))
	assert.Equal(t, 1, cache.Rooms)
	assert.Equal(t, int64(1), cache.EventsApplied)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodGet, "/health", nil)

	w := h.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `test_http_requests_total{code="200",method="GET",route="/health"} 1`)
	assert.Contains(t, body, `test_realtime_connection_state{state="connected"} 1`)
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// openStream starts a real server, since gin streaming needs a
// CloseNotifier, and returns a reader over the event stream.
func openStream(t *testing.T, h *harness, path string) *bufio.Reader {
	t.Helper()
	server := httptest.NewServer(h.server.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	r := bufio.NewReader(resp.Body)
	ev := readEvent(t, r)
	require.Equal(t, EventReady, ev.name)
	return r
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			ev.data += strings.TrimPrefix(line, "data:")
		}
	}
}

func readChange(t *testing.T, r *bufio.Reader) realtime.ChangeEvent {
	t.Helper()
	ev := readEvent(t, r)
	require.Equal(t, EventChange, ev.name)
	var change realtime.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(ev.data), &change))
	return change
}

func TestStreamRoom(t *testing.T) {
	h := newHarness(t)
	watched := h.createRoom(t, map[string]any{"room_number": "501"})
	other := h.createRoom(t, map[string]any{"room_number": "502"})

	r := openStream(t, h, "/api/streams/rooms/"+watched.ID)

	ctx := context.Background()
	other.Status = model.StatusClean
	_, err := h.store.UpdateRoom(ctx, other)
	require.NoError(t, err)
	watched.Status = model.StatusInProgress
	_, err = h.store.UpdateRoom(ctx, watched)
	require.NoError(t, err)

	change := readChange(t, r)
	assert.Equal(t, "rooms", change.Resource)
	assert.Equal(t, "UPDATE", change.Type)
	assert.Equal(t, watched.ID, change.Data["id"])
	assert.Equal(t, model.StatusInProgress, change.Data["status"])
	assert.Equal(t, model.StatusDirty, change.OldData["status"])
}

func TestStreamStatus(t *testing.T) {
	h := newHarness(t)
	room := h.createRoom(t, map[string]any{"room_number": "601"})

	r := openStream(t, h, "/api/streams/status/"+model.StatusInspected)

	room.Status = model.StatusInspected
	_, err := h.store.UpdateRoom(context.Background(), room)
	require.NoError(t, err)

	change := readChange(t, r)
	assert.Equal(t, room.ID, change.Data["id"])
	assert.Equal(t, model.StatusInspected, change.Data["status"])
}

func TestStreamChanges(t *testing.T) {
	h := newHarness(t)

	r := openStream(t, h, "/api/streams/changes")

	_, err := h.store.InsertRoom(context.Background(), model.Room{Number: "701", Status: model.StatusDirty})
	require.NoError(t, err)

	change := readChange(t, r)
	assert.Equal(t, "rooms", change.Resource)
	assert.Equal(t, "INSERT", change.Type)
	assert.Equal(t, "701", change.Data["room_number"])
}

func TestStreamUnavailable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.hub.Close())

	w := h.do(t, http.MethodGet, "/api/streams/rooms/abc", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, CodeUnavailable, decode[ErrorResponse](t, w).Error.Code)
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/realtime"
)

func TestStateChanged(t *testing.T) {
	m := New("test")

	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial disconnected = %v, want 1", got)
	}

	m.StateChanged(realtime.StateConnected)

	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.connectionState.WithLabelValues("disconnected")); got != 0 {
		t.Errorf("disconnected = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.connectionState); got != 5 {
		t.Errorf("state series = %d, want 5", got)
	}
}

func TestAttemptFailed(t *testing.T) {
	m := New("test")

	m.AttemptFailed(realtime.MsgConnectionTimeout)
	m.AttemptFailed("dial tcp 10.0.0.1:443: connection refused")
	m.AttemptFailed("channel closed")

	if got := testutil.ToFloat64(m.attemptsFailed.WithLabelValues("timeout")); got != 1 {
		t.Errorf("timeout = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.attemptsFailed.WithLabelValues("channel_error")); got != 2 {
		t.Errorf("channel_error = %v, want 2", got)
	}
}

func TestReconnectScheduled(t *testing.T) {
	m := New("test")

	m.ReconnectScheduled(time.Second)
	m.ReconnectScheduled(2 * time.Second)

	if got := testutil.ToFloat64(m.reconnectsTotal); got != 2 {
		t.Errorf("reconnects = %v, want 2", got)
	}
}

func TestEventDispatched(t *testing.T) {
	m := New("test")

	m.EventDispatched("rooms", "UPDATE")
	m.EventDispatched("rooms", "update")
	m.EventDispatched("custom_statuses", "INSERT")

	if got := testutil.ToFloat64(m.eventsDispatched.WithLabelValues("rooms", "update")); got != 2 {
		t.Errorf("rooms/update = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.eventsDispatched.WithLabelValues("custom_statuses", "insert")); got != 1 {
		t.Errorf("custom_statuses/insert = %v, want 1", got)
	}
}

func TestListenerPanickedAsBusHandler(t *testing.T) {
	m := New("test")
	bus := eventbus.New(nil, eventbus.WithPanicHandler(m.ListenerPanicked))

	bus.Add("realtime:change", func(any) { panic("boom") })
	bus.Broadcast("realtime:change", nil)

	if got := testutil.ToFloat64(m.listenerPanics.WithLabelValues("realtime:change")); got != 1 {
		t.Errorf("panics = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)
	m.GaugeFunc("cache", "rooms", "Rooms in the cache", func() float64 { return 42 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`test_http_requests_total{code="200",method="GET",route="/health"} 1`,
		`test_cache_rooms 42`,
		`test_realtime_connection_state{state="disconnected"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/housekeeping/internal/feed"
)

// State is a Manager lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateReconnecting State = "reconnecting"
)

// Status error messages.
const (
	MsgConnectionTimeout = "Connection timeout"
	MsgMaxAttempts       = "Max reconnection attempts reached"
	MsgNotConfigured     = "Realtime channel not configured"
)

// ErrConnectionTimeout is the cause passed to the Policy when no
// confirmation arrived within Config.ConnectTimeout.
var ErrConnectionTimeout = errors.New("connection timeout")

// Defaults
const (
	DefaultResource       = "rooms"
	DefaultTopic          = "realtime:change"
	DefaultConnectTimeout = 5 * time.Second
	DefaultResourceColumn = "id"
	DefaultStatusColumn   = "status"
)

// Config configures a Manager.
type Config struct {
	// Resource is the primary subscription's resource name.
	Resource string

	// Event selects which change types the primary subscription receives.
	Event feed.EventFilter

	// ConnectTimeout bounds the wait for a subscription ack or first payload.
	ConnectTimeout time.Duration

	// Topic is the eventbus topic ChangeEvents are broadcast on.
	Topic string

	// ResourceColumn and StatusColumn are the row columns used by
	// SubscribeToResource and SubscribeToFilteredEvents.
	ResourceColumn string
	StatusColumn   string

	Policy Policy
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		Resource:       DefaultResource,
		Event:          feed.EventAll,
		ConnectTimeout: DefaultConnectTimeout,
		Topic:          DefaultTopic,
		ResourceColumn: DefaultResourceColumn,
		StatusColumn:   DefaultStatusColumn,
		Policy:         DefaultPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Resource == "" {
		c.Resource = d.Resource
	}
	if c.Event == "" {
		c.Event = d.Event
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	if c.ResourceColumn == "" {
		c.ResourceColumn = d.ResourceColumn
	}
	if c.StatusColumn == "" {
		c.StatusColumn = d.StatusColumn
	}
	c.Policy = c.Policy.withDefaults()
	return c
}

// Status is a snapshot of the connection state.
type Status struct {
	State        State
	IsConnected  bool
	IsSubscribed bool

	// LastUpdate is when the last payload was received. Zero if none.
	LastUpdate time.Time

	// Error is the current error message. Empty if none.
	Error string

	ConnectionAttempts int
}

type statusJSON struct {
	State              State      `json:"state"`
	IsConnected        bool       `json:"isConnected"`
	IsSubscribed       bool       `json:"isSubscribed"`
	LastUpdate         *time.Time `json:"lastUpdate"`
	Error              *string    `json:"error"`
	ConnectionAttempts int        `json:"connectionAttempts"`
}

// MarshalJSON encodes the zero LastUpdate and the empty Error as null.
func (s Status) MarshalJSON() ([]byte, error) {
	out := statusJSON{
		State:              s.State,
		IsConnected:        s.IsConnected,
		IsSubscribed:       s.IsSubscribed,
		ConnectionAttempts: s.ConnectionAttempts,
	}
	if !s.LastUpdate.IsZero() {
		t := s.LastUpdate
		out.LastUpdate = &t
	}
	if s.Error != "" {
		e := s.Error
		out.Error = &e
	}
	return json.Marshal(out)
}

// ChangeEvent is the canonical form of a remote state change. It is built
// fresh for every payload and not modified afterwards.
type ChangeEvent struct {
	Resource  string         `json:"resource"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	OldData   map[string]any `json:"oldData"`
	Timestamp time.Time      `json:"timestamp"`
}

// Recorder receives Manager and Dispatcher telemetry.
type Recorder interface {
	StateChanged(state State)
	AttemptFailed(reason string)
	ReconnectScheduled(delay time.Duration)
	EventDispatched(resource, eventType string)
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(State) {}
func (nopRecorder) AttemptFailed(string) {}
func (nopRecorder) ReconnectScheduled(time.Duration) {}
func (nopRecorder) EventDispatched(string, string) {}

package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors
var (
	ErrNotConfigured = errors.New("realtime channel not configured")
	ErrClosed        = errors.New("channel closed")
)

// EventFilter selects which change types a subscription receives.
type EventFilter string

const (
	EventAll    EventFilter = "*"
	EventInsert EventFilter = "insert"
	EventUpdate EventFilter = "update"
	EventDelete EventFilter = "delete"
)

// ParseEventFilter maps a config or wire value onto an EventFilter.
func ParseEventFilter(s string) (EventFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "*", "all":
		return EventAll, nil
	case "insert":
		return EventInsert, nil
	case "update":
		return EventUpdate, nil
	case "delete":
		return EventDelete, nil
	}
	return "", fmt.Errorf("unknown event filter %q", s)
}

// Payload is a raw change notification as delivered by a transport.
//
// Transports following the change-feed convention carry:
//
//	{"eventType": "UPDATE", "table": "rooms", "new": {...}, "old": {...}}
type Payload map[string]any

// Payload field names.
const (
	FieldEventType = "eventType"
	FieldTable     = "table"
	FieldNew       = "new"
	FieldOld       = "old"
)

// EventType returns the payload's event type, or "" if absent.
func (p Payload) EventType() string {
	s, _ := p[FieldEventType].(string)
	return s
}

// Row returns the new-state row, falling back to the old-state row for
// deletes.
func (p Payload) Row() map[string]any {
	if row, ok := p[FieldNew].(map[string]any); ok && len(row) > 0 {
		return row
	}
	if row, ok := p[FieldOld].(map[string]any); ok {
		return row
	}
	return nil
}

// Handler receives payloads for a subscription.
type Handler func(Payload)

// SubscribeState is a subscription lifecycle notification.
type SubscribeState string

const (
	StatusSubscribed   SubscribeState = "SUBSCRIBED"
	StatusChannelError SubscribeState = "CHANNEL_ERROR"
	StatusTimedOut     SubscribeState = "TIMED_OUT"
	StatusClosed       SubscribeState = "CLOSED"
)

// StatusHandler receives subscription lifecycle notifications. err is nil
// for StatusSubscribed.
type StatusHandler func(state SubscribeState, err error)

// Filter narrows a subscription to rows whose Column equals Value.
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

func (f Filter) String() string {
	return f.Column + "=eq." + f.Value
}

// Options configures a subscription.
type Options struct {
	Event    EventFilter
	Filter   *Filter
	OnStatus StatusHandler
}

// Matches reports whether a payload passes the event and row filters.
func (o Options) Matches(p Payload) bool {
	if o.Event != "" && o.Event != EventAll {
		if !strings.EqualFold(p.EventType(), string(o.Event)) {
			return false
		}
	}
	if o.Filter != nil {
		row := p.Row()
		if row == nil {
			return false
		}
		v, ok := row[o.Filter.Column]
		if !ok || v == nil || FormatValue(v) != o.Filter.Value {
			return false
		}
	}
	return true
}

// FormatValue renders a decoded column value the way filters spell it.
// JSON numbers decode as float64 and are written without an exponent.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// Notify calls OnStatus if set.
func (o Options) Notify(state SubscribeState, err error) {
	if o.OnStatus != nil {
		o.OnStatus(state, err)
	}
}

// UnsubscribeFunc tears down a subscription. Implementations are
// idempotent.
type UnsubscribeFunc func()

// Channel is the publish/subscribe transport keyed by resource name.
type Channel interface {
	// Subscribe opens a subscription. It returns immediately; the
	// subscription is confirmed later via OnStatus(StatusSubscribed) or by
	// the first payload. A non-nil error means the subscription could not
	// be opened at all.
	Subscribe(resource string, handler Handler, opts Options) (UnsubscribeFunc, error)
}

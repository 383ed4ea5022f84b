package realtime

import (
	"log/slog"
	"maps"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/housekeeping/internal/eventbus"
	"github.com/rickgao/housekeeping/internal/feed"
)

// DefaultEventType is used when a payload carries no event type.
const DefaultEventType = "update"

// Dispatcher turns raw payloads into ChangeEvents and broadcasts them.
type Dispatcher struct {
	bus      *eventbus.Bus
	topic    string
	resource string
	clock    clockwork.Clock
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher broadcasting on topic. resource names
// events whose payload does not carry a table.
func NewDispatcher(bus *eventbus.Bus, topic, resource string, clock clockwork.Clock, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = eventbus.New(logger)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Dispatcher{
		bus:      bus,
		topic:    topic,
		resource: resource,
		clock:    clock,
		recorder: nopRecorder{},
		logger:   logger,
	}
}

// Topic returns the bus topic events are broadcast on.
func (d *Dispatcher) Topic() string {
	return d.topic
}

// Normalize builds a ChangeEvent from a payload:
//
//   - Type is the "eventType" field, or "update" if absent.
//   - Data is the "new" row, or a copy of the whole payload if there is none.
//   - OldData is the "old" row, or nil.
//   - Timestamp is the dispatch time, not the origin time.
//
// The maps in the event are copies; later changes to the payload do not
// show through.
func (d *Dispatcher) Normalize(p feed.Payload) ChangeEvent {
	return d.normalize(p, d.resource)
}

func (d *Dispatcher) normalize(p feed.Payload, resource string) ChangeEvent {
	ev := ChangeEvent{
		Resource:  resource,
		Type:      DefaultEventType,
		Timestamp: d.clock.Now(),
	}

	if table, ok := p[feed.FieldTable].(string); ok && table != "" {
		ev.Resource = table
	}
	if t := p.EventType(); t != "" {
		ev.Type = t
	}

	row, ok := p[feed.FieldNew].(map[string]any)
	if !ok {
		row = p
	}
	ev.Data = maps.Clone(row)
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	if old, ok := p[feed.FieldOld].(map[string]any); ok {
		ev.OldData = maps.Clone(old)
	}

	return ev
}

// Broadcast emits ev on the bus topic. Listener panics are recovered by the
// bus. It returns the number of listeners that received the event.
func (d *Dispatcher) Broadcast(ev ChangeEvent) int {
	n := d.bus.Broadcast(d.topic, ev)
	d.recorder.EventDispatched(ev.Resource, ev.Type)
	d.logger.Debug("change event broadcast",
		"resource", ev.Resource,
		"type", ev.Type,
		"listeners", n,
	)
	return n
}

// Dispatch normalizes and broadcasts a payload.
func (d *Dispatcher) Dispatch(p feed.Payload) ChangeEvent {
	ev := d.Normalize(p)
	d.Broadcast(ev)
	return ev
}

// Listen registers fn for ChangeEvents on topic and returns its remover.
// Other values broadcast on the topic are ignored.
func Listen(bus *eventbus.Bus, topic string, fn func(ChangeEvent)) func() {
	return bus.Add(topic, func(e any) {
		if ev, ok := e.(ChangeEvent); ok {
			fn(ev)
		}
	})
}

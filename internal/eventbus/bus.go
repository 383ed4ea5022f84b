// Package eventbus is a process-wide publish/subscribe topic registry.
//
// Producers broadcast to a topic name without holding references to the
// consumers; consumers register listeners on the topic. There is no replay:
// a listener added after a broadcast does not see it.
package eventbus

import (
	"cmp"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
)

// Listener receives an event broadcast on a topic.
type Listener func(event any)

// PanicHandler is called after a listener panic has been recovered.
type PanicHandler func(topic string, recovered any)

// Bus maps topic names to listener sets.
type Bus struct {
	logger  *slog.Logger
	onPanic PanicHandler

	mu        sync.RWMutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithPanicHandler registers a callback for recovered listener panics.
func WithPanicHandler(fn PanicHandler) Option {
	return func(b *Bus) { b.onPanic = fn }
}

// New creates an empty bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:    logger,
		listeners: make(map[string]map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add registers a listener on topic and returns a function that removes
// it. The remove function is safe to call more than once.
func (b *Bus) Add(topic string, l Listener) (remove func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[uint64]Listener)
	}
	b.listeners[topic][id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.listeners[topic]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b.listeners, topic)
	}
}

// Broadcast delivers event to every listener registered on topic at the
// time of the call, in registration order, on the calling goroutine. A
// panicking listener is recovered and logged; delivery continues with the
// next one. Broadcast returns the number of listeners that completed
// without panicking.
func (b *Bus) Broadcast(topic string, event any) int {
	delivered := 0
	for _, l := range b.snapshot(topic) {
		if b.deliver(topic, l, event) {
			delivered++
		}
	}
	return delivered
}

// ListenerCount returns the number of listeners on topic.
func (b *Bus) ListenerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

func (b *Bus) deliver(topic string, l Listener, event any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.logger.Error("event listener panicked",
				"topic", topic,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			if b.onPanic != nil {
				b.onPanic(topic, r)
			}
		}
	}()
	l(event)
	return true
}

type entry struct {
	id uint64
	l  Listener
}

func (b *Bus) snapshot(topic string) []Listener {
	b.mu.RLock()
	entries := make([]entry, 0, len(b.listeners[topic]))
	for id, l := range b.listeners[topic] {
		entries = append(entries, entry{id: id, l: l})
	}
	b.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.id, b.id)
	})

	out := make([]Listener, len(entries))
	for i, e := range entries {
		out[i] = e.l
	}
	return out
}

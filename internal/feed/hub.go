package feed

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
)

// Hub is an in-process Channel. Publishers call Publish; subscribers are
// invoked synchronously on the publishing goroutine, in subscription order.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[uint64]*hubSub // resource -> id -> sub
	nextID uint64
	closed bool
}

type hubSub struct {
	id       uint64
	resource string
	handler  Handler
	opts     Options
}

// NewHub creates an in-process channel.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[uint64]*hubSub),
	}
}

// Subscribe registers handler for resource and acknowledges immediately.
func (h *Hub) Subscribe(resource string, handler Handler, opts Options) (UnsubscribeFunc, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &hubSub{
		id:       h.nextID,
		resource: resource,
		handler:  handler,
		opts:     opts,
	}
	if h.subs[resource] == nil {
		h.subs[resource] = make(map[uint64]*hubSub)
	}
	h.subs[resource][sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("hub subscription opened", "resource", resource, "sub", sub.id)
	opts.Notify(StatusSubscribed, nil)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sub) })
	}, nil
}

func (h *Hub) remove(sub *hubSub) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subs[sub.resource]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.resource)
		}
	}
}

// Publish delivers a payload to every matching subscription on resource.
func (h *Hub) Publish(resource string, p Payload) {
	for _, sub := range h.snapshot(resource) {
		if !sub.opts.Matches(p) {
			continue
		}
		sub.handler(p)
	}
}

// Fail reports a channel error to every subscription on resource and drops
// them, the way a transport does when its underlying connection breaks.
func (h *Hub) Fail(resource string, err error) {
	h.mu.Lock()
	subs := h.subs[resource]
	delete(h.subs, resource)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.opts.Notify(StatusChannelError, err)
	}
}

// SubscriberCount returns the number of open subscriptions on resource.
func (h *Hub) SubscriberCount(resource string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[resource])
}

// Close drops every subscription, notifying each with StatusClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[uint64]*hubSub)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.opts.Notify(StatusClosed, ErrClosed)
		}
	}
	return nil
}

// snapshot copies the subscriptions for resource in id order.
func (h *Hub) snapshot(resource string) []*hubSub {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := make([]*hubSub, 0, len(h.subs[resource]))
	for _, sub := range h.subs[resource] {
		subs = append(subs, sub)
	}
	slices.SortFunc(subs, func(a, b *hubSub) int {
		return cmp.Compare(a.id, b.id)
	})
	return subs
}

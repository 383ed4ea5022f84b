package realtime

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/housekeeping/internal/feed"
)

// Subscription is a handle on an open channel subscription.
type Subscription struct {
	Resource string
	Event    feed.EventFilter

	registry    *Registry
	active      atomic.Bool
	once        sync.Once
	unsubscribe feed.UnsubscribeFunc
}

// Active reports whether the subscription still delivers payloads.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Unsubscribe closes the subscription and, if it is the registry's primary,
// clears the primary slot. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		if s.registry != nil {
			s.registry.clear(s)
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

func (s *Subscription) handler(h feed.Handler) feed.Handler {
	return func(p feed.Payload) {
		if s.active.Load() {
			h(p)
		}
	}
}

func (s *Subscription) statusHandler(h feed.StatusHandler) feed.StatusHandler {
	if h == nil {
		return nil
	}
	return func(state feed.SubscribeState, err error) {
		if s.active.Load() {
			h(state, err)
		}
	}
}

// Registry owns the primary subscription for one logical feed.
type Registry struct {
	channel feed.Channel
	logger  *slog.Logger

	mu      sync.Mutex
	primary *Subscription
}

// NewRegistry creates a registry over channel. A nil channel makes every
// registration fail with feed.ErrNotConfigured.
func NewRegistry(channel feed.Channel, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channel: channel,
		logger:  logger,
	}
}

// Configured reports whether the registry has a channel.
func (r *Registry) Configured() bool {
	return r.channel != nil
}

// RegisterPrimary replaces the primary subscription. Any existing primary is
// unsubscribed before the new one is opened. Channel errors are returned
// unwrapped.
func (r *Registry) RegisterPrimary(
	resource string,
	event feed.EventFilter,
	handler feed.Handler,
	onStatus feed.StatusHandler,
) (*Subscription, error) {
	if r.channel == nil {
		return nil, feed.ErrNotConfigured
	}

	r.UnregisterPrimary()

	sub := &Subscription{
		Resource: resource,
		Event:    event,
		registry: r,
	}
	sub.active.Store(true)

	unsub, err := r.channel.Subscribe(resource, sub.handler(handler), feed.Options{
		Event:    event,
		OnStatus: sub.statusHandler(onStatus),
	})
	if err != nil {
		sub.active.Store(false)
		r.logger.Warn("primary subscribe failed", "resource", resource, "error", err)
		return nil, err
	}
	sub.unsubscribe = unsub

	r.mu.Lock()
	prev := r.primary
	r.primary = sub
	r.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}

	r.logger.Debug("primary subscription registered", "resource", resource, "event", event)
	return sub, nil
}

// UnregisterPrimary unsubscribes and clears the primary. It is a no-op when
// there is none. No payload of the removed subscription is delivered after
// it returns.
func (r *Registry) UnregisterPrimary() {
	r.mu.Lock()
	sub := r.primary
	r.primary = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		r.logger.Debug("primary subscription removed", "resource", sub.Resource)
	}
}

// Primary returns the current primary subscription, or nil.
func (r *Registry) Primary() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primary
}

// RegisterSecondary opens an untracked subscription. The caller owns the
// returned function; it is idempotent.
func (r *Registry) RegisterSecondary(resource string, opts feed.Options, handler feed.Handler) (feed.UnsubscribeFunc, error) {
	if r.channel == nil {
		return nil, feed.ErrNotConfigured
	}

	sub := &Subscription{
		Resource: resource,
		Event:    opts.Event,
	}
	sub.active.Store(true)
	opts.OnStatus = sub.statusHandler(opts.OnStatus)

	unsub, err := r.channel.Subscribe(resource, sub.handler(handler), opts)
	if err != nil {
		return nil, err
	}
	sub.unsubscribe = unsub

	return sub.Unsubscribe, nil
}

func (r *Registry) clear(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == sub {
		r.primary = nil
	}
}

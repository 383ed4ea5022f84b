package realtime

import (
	"github.com/rickgao/housekeeping/internal/feed"
)

// SubscribeToResource delivers changes to the single row whose id column
// equals id. The callback runs on the channel's delivery goroutine. The
// caller owns the returned function; it is idempotent.
func (m *Manager) SubscribeToResource(id string, fn func(ChangeEvent)) (feed.UnsubscribeFunc, error) {
	return m.subscribeFiltered(feed.Filter{Column: m.cfg.ResourceColumn, Value: id}, fn)
}

// SubscribeToFilteredEvents delivers changes to rows whose status column
// equals value.
func (m *Manager) SubscribeToFilteredEvents(value string, fn func(ChangeEvent)) (feed.UnsubscribeFunc, error) {
	return m.subscribeFiltered(feed.Filter{Column: m.cfg.StatusColumn, Value: value}, fn)
}

func (m *Manager) subscribeFiltered(filter feed.Filter, fn func(ChangeEvent)) (feed.UnsubscribeFunc, error) {
	unsub, err := m.registry.RegisterSecondary(m.cfg.Resource, feed.Options{
		Event:  m.cfg.Event,
		Filter: &filter,
	}, func(p feed.Payload) {
		fn(m.dispatcher.Normalize(p))
	})
	if err != nil {
		m.logger.Warn("secondary subscribe failed",
			"resource", m.cfg.Resource,
			"filter", filter.String(),
			"error", err,
		)
		return nil, err
	}

	m.logger.Debug("secondary subscription opened",
		"resource", m.cfg.Resource,
		"filter", filter.String(),
	)
	return unsub, nil
}

// Follow opens a secondary subscription on another resource and broadcasts
// its changes on the bus topic alongside the primary's. It does not affect
// the connection status.
func (m *Manager) Follow(resource string) (feed.UnsubscribeFunc, error) {
	unsub, err := m.registry.RegisterSecondary(resource, feed.Options{Event: feed.EventAll}, func(p feed.Payload) {
		m.dispatcher.Broadcast(m.dispatcher.normalize(p, resource))
	})
	if err != nil {
		m.logger.Warn("follow subscribe failed", "resource", resource, "error", err)
		return nil, err
	}

	m.logger.Debug("following resource", "resource", resource, "topic", m.Topic())
	return unsub, nil
}

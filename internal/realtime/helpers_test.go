package realtime

import (
	"io"
	"log/slog"
	"sync"

	"github.com/rickgao/housekeeping/internal/feed"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel records subscriptions and lets tests drive them by hand.
type fakeChannel struct {
	mu           sync.Mutex
	subs         []*fakeSub
	unsubscribes int

	// autoAck acknowledges every subscription inside Subscribe.
	autoAck bool

	// subscribeErr is returned by Subscribe when set.
	subscribeErr error
}

type fakeSub struct {
	ch       *fakeChannel
	resource string
	handler  feed.Handler
	opts     feed.Options

	mu     sync.Mutex
	closed bool
}

func (c *fakeChannel) Subscribe(resource string, handler feed.Handler, opts feed.Options) (feed.UnsubscribeFunc, error) {
	c.mu.Lock()
	if c.subscribeErr != nil {
		err := c.subscribeErr
		c.mu.Unlock()
		return nil, err
	}
	sub := &fakeSub{ch: c, resource: resource, handler: handler, opts: opts}
	c.subs = append(c.subs, sub)
	autoAck := c.autoAck
	c.mu.Unlock()

	if autoAck {
		sub.ack()
	}

	return func() {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		c.mu.Lock()
		c.unsubscribes++
		c.mu.Unlock()
	}, nil
}

func (c *fakeChannel) subscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeChannel) unsubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

func (c *fakeChannel) openCount() int {
	c.mu.Lock()
	subs := append([]*fakeSub(nil), c.subs...)
	c.mu.Unlock()

	n := 0
	for _, s := range subs {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (c *fakeChannel) last() *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) == 0 {
		return nil
	}
	return c.subs[len(c.subs)-1]
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) ack() {
	s.opts.Notify(feed.StatusSubscribed, nil)
}

func (s *fakeSub) fail(err error) {
	s.opts.Notify(feed.StatusChannelError, err)
}

func (s *fakeSub) emit(p feed.Payload) {
	if s.opts.Matches(p) {
		s.handler(p)
	}
}
